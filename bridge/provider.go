package bridge

import (
	"context"

	"github.com/wippyai/kernel-runtime/heap"
)

// NativeCodeProvider compiles and loads native code for one platform.
type NativeCodeProvider interface {
	// LoadSupport loads the fixed runtime support module. It is called at
	// most once per provider.
	LoadSupport(ctx context.Context, p Platform) error

	// CompileAndLoad turns source into a loaded module. Toolchain failures are
	// reported as *errors.CompileError.
	CompileAndLoad(ctx context.Context, src []byte, p Platform) (Module, error)
}

// Module is a loaded job-specific translation unit.
type Module interface {
	// Execute runs every kernel of bufs on up to threads workers and returns
	// the coarse exit status. The regions of bufs are updated in place.
	Execute(ctx context.Context, bufs *heap.Buffers, threads int) (int32, error)
	Close(ctx context.Context) error
}

// ThreadLimiter is implemented by providers that cap worker threads.
type ThreadLimiter interface {
	MaxThreads() int
}
