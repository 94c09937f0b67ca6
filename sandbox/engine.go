package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/zeebo/blake3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
)

const tracerName = "github.com/wippyai/wasm-bridge/sandbox"

// Engine owns a wazero runtime with WASI preview1 registered and creates
// sandbox instances from module bytes. It is safe for concurrent use.
type Engine struct {
	runtime wazero.Runtime
	tracer  trace.Tracer
	cfg     Config

	mu       sync.Mutex
	compiled map[[32]byte]wazero.CompiledModule
	closed   bool
}

// NewEngine creates an engine. A nil cfg uses defaults.
func NewEngine(ctx context.Context, cfg *Config) (*Engine, error) {
	c := cfg.withDefaults()

	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if c.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	tp := c.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Engine{
		runtime:  runtime,
		tracer:   tp.Tracer(tracerName),
		cfg:      c,
		compiled: make(map[[32]byte]wazero.CompiledModule),
	}, nil
}

// Config returns the effective configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// Instantiate compiles wasmBytes, checks the entrypoint export and creates a
// module instance with sc's halves bound as stdin/stdout/stderr. The
// entrypoint is not run. On failure nothing has been scheduled and the
// returned error satisfies IsLoadError.
func (e *Engine) Instantiate(ctx context.Context, wasmBytes []byte, sc *Context) (*Entrypoint, error) {
	if sc == nil {
		sc = NewContext()
	}

	compiled, err := e.compile(ctx, wasmBytes)
	if err != nil {
		Logger().Debug("module rejected", zap.Error(err))
		return nil, err
	}

	if !sc.bind() {
		return nil, errors.InvalidInput(errors.PhaseInstantiate, "sandbox context already bound to an instance")
	}

	id := uuid.NewString()
	modCfg := wazero.NewModuleConfig().
		WithName(id).
		WithStartFunctions()
	if sc.stdin != nil {
		modCfg = modCfg.WithStdin(sc.stdin)
	}
	if sc.stdout != nil {
		modCfg = modCfg.WithStdout(sc.stdout)
	}
	if sc.stderr != nil {
		modCfg = modCfg.WithStderr(sc.stderr)
	}
	if len(sc.args) > 0 {
		modCfg = modCfg.WithArgs(sc.args...)
	}
	for k, v := range sc.env {
		modCfg = modCfg.WithEnv(k, v)
	}

	mod, err := e.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		sc.release()
		Logger().Debug("instantiation failed", zap.String("id", id), zap.Error(err))
		return nil, errors.Instantiation(id, err)
	}

	Logger().Debug("sandbox instantiated",
		zap.String("id", id),
		zap.String("entrypoint", e.cfg.Entrypoint))

	return &Entrypoint{
		id:     id,
		name:   e.cfg.Entrypoint,
		engine: e,
		module: mod,
		fn:     mod.ExportedFunction(e.cfg.Entrypoint),
		sc:     sc,
	}, nil
}

// compile returns a cached compiled module keyed by the blake3 digest of
// wasmBytes. Only modules with a valid entrypoint are cached.
func (e *Engine) compile(ctx context.Context, wasmBytes []byte) (wazero.CompiledModule, error) {
	key := blake3.Sum256(wasmBytes)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, errors.InvalidInput(errors.PhaseLoad, "engine closed")
	}
	if cm, ok := e.compiled[key]; ok {
		return cm, nil
	}

	cm, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.MalformedModule(err)
	}
	if err := checkEntrypoint(cm, e.cfg.Entrypoint); err != nil {
		_ = cm.Close(ctx)
		return nil, err
	}

	e.compiled[key] = cm
	return cm, nil
}

func checkEntrypoint(cm wazero.CompiledModule, name string) error {
	def, ok := cm.ExportedFunctions()[name]
	if !ok {
		return errors.MissingExport(name)
	}
	if params, results := len(def.ParamTypes()), len(def.ResultTypes()); params != 0 || results != 0 {
		return errors.SignatureMismatch(name, params, results)
	}
	return nil
}

// CachedModules returns the number of compiled modules held by the engine
func (e *Engine) CachedModules() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.compiled)
}

// Close releases the runtime, every compiled module and any instance still
// alive. Running executions are interrupted.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.compiled = nil
	e.mu.Unlock()
	return e.runtime.Close(ctx)
}

// IsLoadError reports whether err came from loading or instantiating a module
func IsLoadError(err error) bool {
	return errors.IsLoad(err)
}
