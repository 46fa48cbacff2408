package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/kernel-runtime/bridge"
	"github.com/wippyai/kernel-runtime/codegen"
	"github.com/wippyai/kernel-runtime/errors"
	"github.com/wippyai/kernel-runtime/heap"
	"github.com/wippyai/kernel-runtime/layout"
	"github.com/wippyai/kernel-runtime/transcoder"
)

// execution is the pass a job module instance is running.
type execution struct {
	view *heap.Buffers
}

// LoadSupport registers the support host module. It is loaded once per
// engine; a second call fails.
func (e *WazeroEngine) LoadSupport(ctx context.Context, p bridge.Platform) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.support {
		return errors.Load("support module already loaded", nil)
	}

	_, err := e.runtime.NewHostModuleBuilder(codegen.SupportModule).
		NewFunctionBuilder().WithFunc(e.hostAlloc).Export(codegen.ImportAlloc).
		NewFunctionBuilder().WithFunc(e.hostThrow).Export(codegen.ImportThrow).
		NewFunctionBuilder().WithFunc(e.hostRaise).Export(codegen.ImportRaise).
		Instantiate(ctx)
	if err != nil {
		return errors.Load("instantiate support module", err)
	}
	e.support = true
	Logger().Debug("support module loaded", zap.Stringer("platform", p))
	return nil
}

// active returns the running pass. Host functions are only reachable from a
// job module call, which always happens inside Module.Execute.
func (e *WazeroEngine) active() *execution {
	x := e.current
	if x == nil {
		panic("kernelrt host function called outside a pass")
	}
	return x
}

// hostAlloc allocates a zeroed object of registry class id and returns its
// handle, or -1 once the heap is exhausted.
func (e *WazeroEngine) hostAlloc(_ context.Context, class int32, length, size uint32) int32 {
	x := e.active()
	h := x.view.Allocate(x.view.ClassNumber(class), length, size)
	if h == heap.NullRef {
		return -1
	}
	return int32(h)
}

// hostThrow records a CBOR-encoded exception of registry class id.
func (e *WazeroEngine) hostThrow(_ context.Context, m api.Module, thread, kernel, class int32, ptr, n uint32) {
	x := e.active()
	payload := readPayload(m, ptr, n)
	if err := x.view.Raise(int(thread), kernel, x.view.ClassNumber(class), payload); err != nil {
		panic(err)
	}
}

// hostRaise records a KernelError carrying the message at ptr.
func (e *WazeroEngine) hostRaise(_ context.Context, m api.Module, thread, kernel int32, ptr, n uint32) {
	x := e.active()
	payload := transcoder.MessagePayload(string(readPayload(m, ptr, n)))
	if err := x.view.Raise(int(thread), kernel, x.view.ClassNumber(layout.KernelErrorClassID), payload); err != nil {
		panic(err)
	}
}

func readPayload(m api.Module, ptr, n uint32) []byte {
	mem := &guestMemory{mem: m.Memory()}
	data, err := mem.Read(ptr, n)
	if err != nil {
		panic(fmt.Errorf("exception payload: %w", err))
	}
	return append([]byte(nil), data...)
}
