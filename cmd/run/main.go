package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-bridge/adder"
	"github.com/wippyai/wasm-bridge/config"
	"github.com/wippyai/wasm-bridge/driver"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/pipe"
	"github.com/wippyai/wasm-bridge/sandbox"
)

type cliOptions struct {
	wasmFile    string
	configFile  string
	entrypoint  string
	timeout     time.Duration
	capacity    int
	memoryPages uint
	verbose     bool
	interactive bool
}

func main() {
	var opts cliOptions
	flag.StringVar(&opts.wasmFile, "wasm", "", "Path to a WASI command module (default: built-in adder)")
	flag.StringVar(&opts.configFile, "config", "", "Path to YAML config file")
	flag.IntVar(&opts.capacity, "capacity", 0, "Channel capacity in bytes (overrides config)")
	flag.DurationVar(&opts.timeout, "timeout", 0, "Maximum execution time, e.g. 5s (overrides config)")
	flag.UintVar(&opts.memoryPages, "memory-pages", 0, "Guest memory limit in 64KB pages (overrides config)")
	flag.StringVar(&opts.entrypoint, "entrypoint", "", "Exported function to run (overrides config)")
	flag.BoolVar(&opts.verbose, "v", false, "Verbose development logging")
	flag.BoolVar(&opts.interactive, "i", false, "Interactive mode with TUI")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: run [-wasm file.wasm] [-config bridge.yaml] < input")
		fmt.Fprintln(os.Stderr, "       run [-wasm file.wasm] -i  (interactive mode)")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	code, err := run(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}

func loadConfig(opts cliOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.configFile != "" {
		var err error
		if cfg, err = config.Load(opts.configFile); err != nil {
			return cfg, err
		}
	}

	if opts.capacity != 0 {
		cfg.Sandbox.ChannelCapacity = opts.capacity
	}
	if opts.timeout != 0 {
		cfg.Sandbox.MaxExecTime = opts.timeout
	}
	if opts.memoryPages != 0 {
		cfg.Sandbox.MemoryLimitPages = uint32(opts.memoryPages)
	}
	if opts.entrypoint != "" {
		cfg.Sandbox.Entrypoint = opts.entrypoint
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
		cfg.Log.Development = true
	}
	return cfg, cfg.Validate()
}

func run(opts cliOptions) (int, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return 2, err
	}

	// The TUI owns the terminal; logs would corrupt it.
	if !opts.interactive {
		logger, err := cfg.Log.Logger()
		if err != nil {
			return 2, fmt.Errorf("build logger: %w", err)
		}
		defer logger.Sync()
		sandbox.SetLogger(logger.Named("sandbox"))
		driver.SetLogger(logger.Named("driver"))
	}

	name := "adder"
	bin := adder.Module()
	if opts.wasmFile != "" {
		if bin, err = os.ReadFile(opts.wasmFile); err != nil {
			return 2, fmt.Errorf("read file: %w", err)
		}
		name = filepath.Base(opts.wasmFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	eng, err := sandbox.NewEngine(ctx, cfg.EngineConfig())
	if err != nil {
		return 1, fmt.Errorf("create engine: %w", err)
	}
	defer eng.Close(context.Background())

	launchOpts := []driver.Option{
		driver.WithCapacity(cfg.Sandbox.ChannelCapacity),
		driver.WithArgs(append([]string{name}, flag.Args()...)...),
	}

	if opts.interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return 2, fmt.Errorf("interactive mode requires a terminal")
		}
		return 0, runInteractive(ctx, eng, bin, name, launchOpts)
	}

	return runBatch(ctx, eng, bin, launchOpts)
}

func runBatch(ctx context.Context, eng *sandbox.Engine, bin []byte, launchOpts []driver.Option) (int, error) {
	s, err := driver.Launch(ctx, eng, bin, launchOpts...)
	if err != nil {
		return 1, err
	}

	out, err := s.Drive(ctx, copyIn(os.Stdin), copyOut(os.Stdout))
	for _, line := range s.Stderr() {
		fmt.Fprintln(os.Stderr, line)
	}
	if err != nil {
		sandbox.Logger().Debug("run failed", zap.Stringer("outcome", out), zap.Error(err))
		return exitCode(out, err), err
	}
	return 0, nil
}

func exitCode(out sandbox.Outcome, err error) int {
	switch {
	case out.Status == sandbox.Trapped && out.Trap == sandbox.TrapExit:
		return int(out.ExitCode)
	case stderrors.Is(err, errors.ErrCancelled):
		return 130
	default:
		return 1
	}
}

// copyIn forwards src to the guest's stdin until src ends. src is read on
// its own goroutine so the feed returns once ctx ends even while a read of
// the terminal is pending; that read is abandoned.
func copyIn(src io.Reader) driver.FeedFunc {
	type chunk struct {
		n   int
		err error
	}
	return func(ctx context.Context, w *pipe.Writer) error {
		buf := make([]byte, 32*1024)
		chunks := make(chan chunk, 1)
		next := make(chan struct{}, 1)
		go func() {
			for {
				n, err := src.Read(buf)
				chunks <- chunk{n, err}
				if err != nil {
					return
				}
				select {
				case <-next:
				case <-ctx.Done():
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c := <-chunks:
				if c.n > 0 {
					if _, err := w.WriteContext(ctx, buf[:c.n]); err != nil {
						return err
					}
				}
				if c.err == io.EOF {
					return nil
				}
				if c.err != nil {
					return c.err
				}
				next <- struct{}{}
			}
		}
	}
}

// copyOut forwards the guest's stdout to dst until end of stream.
func copyOut(dst io.Writer) driver.DrainFunc {
	return func(ctx context.Context, r *pipe.Reader) error {
		buf := make([]byte, 32*1024)
		for {
			n, err := r.ReadContext(ctx, buf)
			if n > 0 {
				if _, werr := dst.Write(buf[:n]); werr != nil {
					return werr
				}
			}
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
}
