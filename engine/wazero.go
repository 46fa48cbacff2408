package engine

import (
	"bytes"
	"context"
	"runtime"
	"sync"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/kernel-runtime/bridge"
	"github.com/wippyai/kernel-runtime/codegen"
	"github.com/wippyai/kernel-runtime/errors"
)

var (
	_ bridge.NativeCodeProvider = (*WazeroEngine)(nil)
	_ bridge.ThreadLimiter      = (*WazeroEngine)(nil)
)

var wasmMagic = []byte{0x00, 'a', 's', 'm'}

// WazeroEngine runs job modules on the wazero runtime. It implements
// bridge.NativeCodeProvider: the support module is a host module registered
// once, and each job module is compiled ahead of time and instantiated fresh
// for every pass.
type WazeroEngine struct {
	runtime    wazero.Runtime
	cache      wazero.CompilationCache
	toolchains map[bridge.Platform]*Toolchain
	workDir    string

	// mu serializes passes; host functions act on the pass in current.
	mu      sync.Mutex
	current *execution

	maxThreads int
	support    bool
}

// Config holds engine configuration options
type Config struct {
	// MemoryLimitPages caps guest linear memory in 64KiB pages.
	// Zero uses the wazero default (65536 pages, 4GiB).
	MemoryLimitPages uint32

	// CacheDir persists compiled modules across processes when set.
	CacheDir string

	// Toolchain converts text sources to wasm. Nil uses DefaultToolchain
	// for the platform being compiled for.
	Toolchain *Toolchain

	// WorkDir receives generated sources and toolchain output.
	// Empty uses a fresh temporary directory per compile.
	WorkDir string

	// MaxThreads caps logical worker threads. Zero uses NumCPU.
	MaxThreads int
}

// NewWazeroEngine creates an engine with default settings.
func NewWazeroEngine(ctx context.Context) (*WazeroEngine, error) {
	return NewWazeroEngineWithConfig(ctx, nil)
}

// NewWazeroEngineWithConfig creates an engine with custom configuration
func NewWazeroEngineWithConfig(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	e := &WazeroEngine{
		toolchains: make(map[bridge.Platform]*Toolchain),
		workDir:    cfg.WorkDir,
		maxThreads: cfg.MaxThreads,
	}
	if cfg.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(cfg.CacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "compilation cache "+cfg.CacheDir)
		}
		e.cache = cache
		runtimeCfg = runtimeCfg.WithCompilationCache(cache)
	}
	if cfg.Toolchain != nil {
		e.toolchains[bridge.PlatformUnix] = cfg.Toolchain
		e.toolchains[bridge.PlatformWindows] = cfg.Toolchain
	}

	e.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	return e, nil
}

// MaxThreads returns the configured worker cap.
func (e *WazeroEngine) MaxThreads() int {
	if e.maxThreads > 0 {
		return e.maxThreads
	}
	return runtime.NumCPU()
}

// CompileAndLoad compiles src into a job module. Sources starting with the
// wasm magic are compiled directly; anything else goes through the platform
// toolchain first.
func (e *WazeroEngine) CompileAndLoad(ctx context.Context, src []byte, p bridge.Platform) (bridge.Module, error) {
	e.mu.Lock()
	support := e.support
	e.mu.Unlock()
	if !support {
		return nil, errors.Load("support module not loaded", nil)
	}

	bin := src
	if !bytes.HasPrefix(src, wasmMagic) {
		tc := e.toolchainFor(p)
		Logger().Debug("running toolchain", zap.Stringer("platform", p), zap.Strings("command", tc.Command))
		out, err := tc.Compile(ctx, src)
		if err != nil {
			return nil, err
		}
		bin = out
	}

	compiled, err := e.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCompile, errors.KindCompileFailed, err, "compile job module")
	}
	if _, ok := compiled.ExportedFunctions()[codegen.ExportRun]; !ok {
		_ = compiled.Close(ctx)
		return nil, errors.Load("job module does not export "+codegen.ExportRun, nil)
	}
	if _, ok := compiled.ExportedMemories()[codegen.ExportMemory]; !ok {
		_ = compiled.Close(ctx)
		return nil, errors.Load("job module does not export "+codegen.ExportMemory, nil)
	}

	Logger().Debug("job module compiled", zap.Int("bytes", len(bin)))
	return &Module{engine: e, compiled: compiled}, nil
}

func (e *WazeroEngine) toolchainFor(p bridge.Platform) *Toolchain {
	if tc, ok := e.toolchains[p]; ok {
		return tc
	}
	tc := DefaultToolchain(p)
	tc.WorkDir = e.workDir
	return tc
}

// Close releases the runtime and the compilation cache.
func (e *WazeroEngine) Close(ctx context.Context) error {
	err := e.runtime.Close(ctx)
	if e.cache != nil {
		if cerr := e.cache.Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}
