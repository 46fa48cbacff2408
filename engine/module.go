package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/kernel-runtime/bridge"
	"github.com/wippyai/kernel-runtime/codegen"
	"github.com/wippyai/kernel-runtime/errors"
	"github.com/wippyai/kernel-runtime/heap"
)

var _ bridge.Module = (*Module)(nil)

const pageSize = 65536

// Module is a compiled job module.
type Module struct {
	engine   *WazeroEngine
	compiled wazero.CompiledModule
}

// Execute instantiates the module, places the buffer regions at the end of
// its linear memory and runs every kernel through the exported dispatcher.
// Kernels run one at a time on the calling goroutine; kernel k uses logical
// thread k mod threads, which only selects its exception slot. The pass stops
// at the first kernel that exhausts the heap, raises or traps, and the heap
// writes and allocations of that kernel are rolled back. A trap with no
// exception recorded is reported as a fault.
func (m *Module) Execute(ctx context.Context, bufs *heap.Buffers, threads int) (int32, error) {
	e := m.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	if threads < 1 {
		threads = 1
	}
	if threads > bufs.Threads() {
		threads = bufs.Threads()
	}

	inst, err := e.runtime.InstantiateModule(ctx, m.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return heap.StatusFault, errors.Load("instantiate job module", err)
	}
	defer inst.Close(ctx)

	mem := inst.ExportedMemory(codegen.ExportMemory)
	base := mem.Size()
	l := bufs.Layout(base)
	if grow := l.Total - base; grow > 0 {
		pages := (grow + pageSize - 1) / pageSize
		if _, ok := mem.Grow(pages); !ok {
			return heap.StatusFault, errors.New(errors.PhaseExecute, errors.KindOutOfBounds).
				Detail("cannot grow guest memory by %d pages for %d bytes of buffers", pages, grow).
				Build()
		}
	}
	raw, ok := mem.Read(0, mem.Size())
	if !ok {
		return heap.StatusFault, errors.New(errors.PhaseExecute, errors.KindOutOfBounds).
			Detail("cannot map %d bytes of guest memory", mem.Size()).
			Build()
	}
	if err := bufs.CopyTo(raw, l); err != nil {
		return heap.StatusFault, errors.Wrap(errors.PhaseExecute, errors.KindOutOfBounds, err, "copy buffers in")
	}
	view, err := heap.View(raw, l, bufs)
	if err != nil {
		return heap.StatusFault, errors.Wrap(errors.PhaseExecute, errors.KindOutOfBounds, err, "map buffers")
	}

	e.current = &execution{view: view}
	defer func() { e.current = nil }()

	run := inst.ExportedFunction(codegen.ExportRun)
	kernels := int(view.Info().KernelCount)
	status := heap.StatusOK
	var trap error
	var cp heap.Checkpoint

	for k := 0; k < kernels; k++ {
		thread := k % threads
		view.MarkStarted(int32(k))
		cp.Save(view)
		res, err := run.Call(ctx, uint64(l.ToSpace), uint64(l.Handles), uint64(l.ClassRefs), uint64(k), uint64(thread))
		if err != nil {
			Logger().Warn("kernel trapped", zap.Int("kernel", k), zap.Int("thread", thread), zap.Error(err))
			cp.Restore(view)
			if view.AnyException() {
				status = heap.StatusException
			} else {
				status, trap = heap.StatusFault, err
			}
			break
		}

		code := int32(res[0])
		if code == heap.KernelDone {
			continue
		}
		Logger().Debug("kernel stopped pass", zap.Int("kernel", k), zap.Int32("code", code))
		switch code {
		case heap.KernelExhausted:
			if info := view.Info(); !info.Exhausted() {
				info.Flags |= heap.FlagExhausted
				view.SetInfo(info)
			}
		case heap.KernelRaised:
			status = heap.StatusException
		default:
			status = heap.StatusFault
			trap = errors.InvalidInput(errors.PhaseExecute, "kernel returned unknown result code")
		}
		cp.Restore(view)
		break
	}

	if err := bufs.CopyFrom(raw, l); err != nil {
		return heap.StatusFault, errors.Wrap(errors.PhaseExecute, errors.KindOutOfBounds, err, "copy buffers out")
	}
	bufs.ClassRefs = view.ClassRefs
	return status, trap
}

// Close releases the compiled module.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}
