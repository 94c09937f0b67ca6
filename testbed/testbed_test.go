package testbed

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/wasm-bridge/adder"
	"github.com/wippyai/wasm-bridge/driver"
	"github.com/wippyai/wasm-bridge/sandbox"
)

// guestEnv names a WASI command built by an external toolchain that speaks
// the adder protocol. Tests using it are skipped when unset.
const guestEnv = "BRIDGE_ADDER_WASM"

func guestModule(tb testing.TB) []byte {
	tb.Helper()
	path := os.Getenv(guestEnv)
	if path == "" {
		tb.Skipf("%s not set", guestEnv)
	}
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		tb.Skipf("%s not readable: %v", path, err)
	}
	return wasmBytes
}

func newEngine(tb testing.TB, cfg *sandbox.Config) *sandbox.Engine {
	tb.Helper()
	ctx := context.Background()
	eng, err := sandbox.NewEngine(ctx, cfg)
	if err != nil {
		tb.Fatalf("create engine: %v", err)
	}
	tb.Cleanup(func() { eng.Close(ctx) })
	return eng
}

func TestAdder_ConcurrentSessions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	eng := newEngine(t, nil)

	const numSessions = 8
	const tokensPerSession = 500

	var wg sync.WaitGroup
	errs := make(chan error, numSessions)

	for g := 0; g < numSessions; g++ {
		wg.Add(1)
		go func(sessionID int) {
			defer wg.Done()

			tokens := make([]uint64, tokensPerSession)
			for i := range tokens {
				tokens[i] = uint64(sessionID*1_000_000 + i)
			}

			var sums []uint64
			_, err := driver.Run(ctx, eng, adder.Module(), adder.Feed(tokens), adder.Collect(&sums),
				driver.WithCapacity(16+sessionID))
			if err != nil {
				errs <- fmt.Errorf("session %d: %w", sessionID, err)
				return
			}
			if !slices.Equal(sums, adder.Sums(tokens)) {
				errs <- fmt.Errorf("session %d: sums leaked across sessions or reordered", sessionID)
			}
		}(g)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent error: %v", err)
	}
	if n := eng.CachedModules(); n != 1 {
		t.Errorf("compiled modules = %d, want 1", n)
	}
}

func TestAdder_CancelOneOfMany(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	eng := newEngine(t, nil)

	victim, err := driver.Launch(ctx, eng, adder.Module())
	if err != nil {
		t.Fatal(err)
	}
	survivor, err := driver.Launch(ctx, eng, adder.Module())
	if err != nil {
		t.Fatal(err)
	}

	victim.Cancel()
	if _, err := victim.Drive(ctx, nil, nil); err == nil {
		t.Fatal("cancelled session reported success")
	}

	var sums []uint64
	if _, err := survivor.Drive(ctx, adder.Feed([]uint64{20, 22}), adder.Collect(&sums)); err != nil {
		t.Fatalf("survivor: %v", err)
	}
	if !slices.Equal(sums, []uint64{42}) {
		t.Errorf("survivor sums = %v", sums)
	}
}

func TestExternalGuest_Pairs(t *testing.T) {
	wasmBytes := guestModule(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	eng := newEngine(t, nil)
	tokens := []uint64{1, 2, 3, 4, 5}

	var sums []uint64
	if _, err := driver.Run(ctx, eng, wasmBytes, adder.Feed(tokens), adder.Collect(&sums)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !slices.Equal(sums, []uint64{3, 7}) {
		t.Errorf("sums = %v, want [3 7]", sums)
	}
}

func BenchmarkAdder_Session(b *testing.B) {
	ctx := context.Background()
	eng := newEngine(b, nil)
	tokens := make([]uint64, 64)
	for i := range tokens {
		tokens[i] = uint64(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var sums []uint64
		if _, err := driver.Run(ctx, eng, adder.Module(), adder.Feed(tokens), adder.Collect(&sums)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAdder_Throughput(b *testing.B) {
	ctx := context.Background()
	eng := newEngine(b, nil)

	tokens := make([]uint64, 10_000)
	for i := range tokens {
		tokens[i] = uint64(i) * 7919
	}
	b.SetBytes(int64(len(adder.Encode(tokens))))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var sums []uint64
		if _, err := driver.Run(ctx, eng, adder.Module(), adder.Feed(tokens), adder.Collect(&sums)); err != nil {
			b.Fatal(err)
		}
	}
}
