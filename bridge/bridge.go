package bridge

import (
	"context"
	stderrors "errors"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/kernel-runtime/errors"
	"github.com/wippyai/kernel-runtime/heap"
)

// State is the lifecycle state of a Bridge.
type State uint8

const (
	Uninitialized State = iota
	Compiling
	Loaded
	Ready
	Broken
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Compiling:
		return "compiling"
	case Loaded:
		return "loaded"
	case Ready:
		return "ready"
	case Broken:
		return "broken"
	}
	return "unknown"
}

// transitions lists the legal successors of each state. Ready returns to
// Compiling when a job brings a different translation unit.
var transitions = map[State][]State{
	Uninitialized: {Compiling, Broken},
	Compiling:     {Loaded, Broken},
	Loaded:        {Ready, Broken},
	Ready:         {Compiling, Broken},
	Broken:        nil,
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var errClosed = stderrors.New("bridge closed")

// Limits are the fixed capacity limits reported by the device.
type Limits struct {
	MaxEnqueueSize     uint64
	MaxMemoryAllocSize uint64
	NumBlocks          uint64
}

const gib = 1 << 30

// Bridge owns the compile and load lifecycle of the native module. The support
// module is loaded once; the job module is recompiled only when the source
// digest changes. Calls are serialized.
type Bridge struct {
	provider NativeCodeProvider
	module   Module
	cause    error
	mu       sync.Mutex
	digest   uint64
	platform Platform
	state    State
	support  bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithPlatform overrides the detected platform.
func WithPlatform(p Platform) Option {
	return func(b *Bridge) { b.platform = p }
}

// New creates a bridge over provider for the running platform.
func New(provider NativeCodeProvider, opts ...Option) *Bridge {
	b := &Bridge{
		provider: provider,
		platform: DetectPlatform(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Platform returns the platform the bridge compiles for.
func (b *Bridge) Platform() Platform {
	return b.platform
}

// Limits returns the device capacity limits.
func (b *Bridge) Limits() Limits {
	return Limits{
		MaxEnqueueSize:     gib,
		MaxMemoryAllocSize: gib,
		NumBlocks:          gib,
	}
}

// GlobalMemSize is not reported by this device.
func (b *Bridge) GlobalMemSize() (uint64, error) {
	return 0, errors.Unsupported(errors.PhaseExecute, "global memory size")
}

// MaxThreads returns the worker limit of the provider, or GOMAXPROCS.
func (b *Bridge) MaxThreads() int {
	if tl, ok := b.provider.(ThreadLimiter); ok {
		if n := tl.MaxThreads(); n > 0 {
			return n
		}
	}
	return runtime.GOMAXPROCS(0)
}

// Execute runs bufs against the module compiled from src and returns the exit
// status. A failing status with no exception slot populated is a native fault.
func (b *Bridge) Execute(ctx context.Context, src Source, bufs *heap.Buffers, threads int) (int32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Broken {
		return heap.StatusFault, errors.BridgeUnavailable(b.cause)
	}

	digest := src.Digest(b.platform)
	if b.state != Ready || b.digest != digest {
		if err := b.load(ctx, src, digest); err != nil {
			return heap.StatusFault, err
		}
	}

	status, err := b.module.Execute(ctx, bufs, threads)
	if err != nil {
		return status, errors.NativeFault(status, err)
	}
	if status != heap.StatusOK && !bufs.AnyException() {
		return status, errors.NativeFault(status, nil)
	}
	return status, nil
}

func (b *Bridge) load(ctx context.Context, src Source, digest uint64) error {
	if err := b.transition(Compiling); err != nil {
		return err
	}

	if !b.support {
		Logger().Debug("loading support module", zap.Stringer("platform", b.platform))
		if err := b.provider.LoadSupport(ctx, b.platform); err != nil {
			return b.fail(err)
		}
		b.support = true
	}

	if b.module != nil {
		if err := b.module.Close(ctx); err != nil {
			Logger().Warn("closing previous module", zap.Error(err))
		}
		b.module = nil
	}

	Logger().Debug("compiling job module",
		zap.Stringer("platform", b.platform),
		zap.Uint64("digest", digest),
		zap.Int("bytes", len(src.For(b.platform))))
	m, err := b.provider.CompileAndLoad(ctx, src.For(b.platform), b.platform)
	if err != nil {
		return b.fail(err)
	}
	if err := b.transition(Loaded); err != nil {
		return err
	}
	b.module = m
	b.digest = digest
	return b.transition(Ready)
}

// fail moves the bridge to Broken and returns the failure as reported.
func (b *Bridge) fail(err error) error {
	b.state = Broken
	b.cause = err
	Logger().Error("native bridge broken", zap.Error(err))
	var ce *errors.CompileError
	if stderrors.As(err, &ce) {
		return err
	}
	var e *errors.Error
	if stderrors.As(err, &e) {
		return err
	}
	return errors.Load("loading native module", err)
}

func (b *Bridge) transition(to State) error {
	if !CanTransition(b.state, to) {
		return errors.InvalidState(errors.PhaseLoad, b.state.String(), to.String())
	}
	b.state = to
	return nil
}

// Close releases the job module. The bridge is unusable afterwards; the
// support module cannot be loaded again in this process.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.module != nil {
		err = b.module.Close(ctx)
		b.module = nil
	}
	if b.state != Broken {
		b.state = Broken
		b.cause = errClosed
	}
	return err
}
