package job

import (
	"context"
	stderrors "errors"
	"iter"
	"reflect"
	"slices"
	"testing"

	kernelrt "github.com/wippyai/kernel-runtime"
	"github.com/wippyai/kernel-runtime/bridge"
	"github.com/wippyai/kernel-runtime/errors"
	"github.com/wippyai/kernel-runtime/heap"
	"github.com/wippyai/kernel-runtime/layout"
	"github.com/wippyai/kernel-runtime/transcoder"
)

// step increments N. A nonzero Alloc allocates that many bytes first; Fail
// raises instead.
type step struct {
	N     int64
	Alloc uint32
	Fail  bool
}

func (*step) KernelClass() string { return "step" }

// stubExecutor plays the native side of a pass directly on the buffers.
type stubExecutor struct {
	reg     *layout.Registry
	threads int

	// errAt makes call number errAt (1-based) fail with err.
	errAt int
	err   error

	// keepGoing runs the kernels after a raising one, as a parallel device
	// would.
	keepGoing bool

	calls   int
	batches []int
}

func (s *stubExecutor) MaxThreads() int { return s.threads }

func (s *stubExecutor) Execute(_ context.Context, _ bridge.Source, bufs *heap.Buffers, threads int) (int32, error) {
	s.calls++
	if s.err != nil && s.calls == s.errAt {
		return heap.StatusFault, s.err
	}
	c, _ := s.reg.ByName("step")
	nf, _ := c.Field("N")
	af, _ := c.Field("Alloc")
	ff, _ := c.Field("Fail")
	arr, err := s.reg.ArrayOf(reflect.TypeOf([]int64(nil)))
	if err != nil {
		return heap.StatusFault, err
	}

	mem := bufs.Space()
	kernels := int(bufs.Info().KernelCount)
	s.batches = append(s.batches, kernels)
	status := heap.StatusOK
	for k := 0; k < kernels; k++ {
		bufs.MarkStarted(int32(k))
		obj, err := bufs.Object(uint32(k))
		if err != nil {
			return heap.StatusFault, err
		}
		at := obj.Payload()
		if fail, _ := mem.ReadU8(at + ff.Offset); fail != 0 {
			payload := transcoder.MessagePayload("step failed")
			if err := bufs.Raise(k%threads, int32(k), bufs.ClassNumber(layout.KernelErrorClassID), payload); err != nil {
				return heap.StatusFault, err
			}
			status = heap.StatusException
			if !s.keepGoing {
				return status, nil
			}
			continue
		}
		if size, _ := mem.ReadU32(at + af.Offset); size > 0 {
			if bufs.Allocate(bufs.ClassNumber(arr.ID), size/8, size) == heap.NullRef {
				return status, nil
			}
		}
		n, _ := mem.ReadU64(at + nf.Offset)
		if err := mem.WriteU64(at+nf.Offset, uint64(n)+1); err != nil {
			return heap.StatusFault, err
		}
	}
	return status, nil
}

func steps(n int, alloc uint32) []*step {
	out := make([]*step, n)
	for i := range out {
		out[i] = &step{N: int64(i * 10), Alloc: alloc}
	}
	return out
}

func seqOf(ks []*step) iter.Seq[kernelrt.Kernel] {
	return func(yield func(kernelrt.Kernel) bool) {
		for _, k := range ks {
			if !yield(k) {
				return
			}
		}
	}
}

func newDriver(reg *layout.Registry, exec Executor, cfg Config) *Driver {
	return NewDriver(exec, reg, bridge.Source{Unix: []byte("stub")}, cfg)
}

func checkIncrementedOnce(t *testing.T, ks []*step, upTo int) {
	t.Helper()
	for i, k := range ks {
		want := int64(i * 10)
		if i < upTo {
			want++
		}
		if k.N != want {
			t.Errorf("kernel %d N = %d, want %d", i, k.N, want)
		}
	}
}

func TestRun_TenKernelsSixFit(t *testing.T) {
	reg := layout.NewRegistry()
	exec := &stubExecutor{reg: reg, threads: 4}
	ks := steps(10, 0)

	// Each step takes 24 bytes; six fit in 150.
	res, err := newDriver(reg, exec, Config{Capacity: 150}).Run(context.Background(), seqOf(ks))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != Done || res.Passes != 2 {
		t.Fatalf("state=%v passes=%d", res.State, res.Passes)
	}
	if !slices.Equal(exec.batches, []int{6, 4}) {
		t.Errorf("batches = %v, want [6 4]", exec.batches)
	}
	if len(res.Completed) != 10 {
		t.Fatalf("completed = %d", len(res.Completed))
	}
	for i, k := range res.Completed {
		if k != kernelrt.Kernel(ks[i]) {
			t.Errorf("completed[%d] out of order", i)
		}
	}
	checkIncrementedOnce(t, ks, 10)
}

func TestRun_ExceptionStopsJob(t *testing.T) {
	for _, keepGoing := range []bool{false, true} {
		name := "sequential"
		if keepGoing {
			name = "later kernels ran"
		}
		t.Run(name, func(t *testing.T) {
			reg := layout.NewRegistry()
			exec := &stubExecutor{reg: reg, threads: 2, keepGoing: keepGoing}
			ks := steps(5, 0)
			ks[2].Fail = true

			res, err := newDriver(reg, exec, Config{Capacity: 1024}).Run(context.Background(), seqOf(ks))
			var ke *errors.KernelException
			if !stderrors.As(err, &ke) || ke.Index != 2 || ke.Message != "step failed" {
				t.Fatalf("err = %v, want kernel exception at 2", err)
			}
			if res.State != Failed || res.Exception != err {
				t.Errorf("state=%v exception=%v", res.State, res.Exception)
			}
			if len(res.Completed) != 2 {
				t.Errorf("completed = %d, want 2", len(res.Completed))
			}
			checkIncrementedOnce(t, ks, 2)
		})
	}
}

func TestRun_StopsPullingAfterException(t *testing.T) {
	reg := layout.NewRegistry()
	exec := &stubExecutor{reg: reg, threads: 1}
	ks := steps(100, 0)
	ks[1].Fail = true

	pulled := 0
	seq := func(yield func(kernelrt.Kernel) bool) {
		for _, k := range ks {
			pulled++
			if !yield(k) {
				return
			}
		}
	}
	_, err := newDriver(reg, exec, Config{Capacity: 4096, KernelsPerThread: 2}).Run(context.Background(), seq)
	if !stderrors.Is(err, errors.ErrKernelException) {
		t.Fatalf("err = %v", err)
	}
	if pulled != 2 {
		t.Errorf("pulled %d kernels, want 2", pulled)
	}
}

func TestRun_ExhaustionRetriesSuffix(t *testing.T) {
	tests := []struct {
		name     string
		growth   GrowthPolicy
		batches  []int
		capacity uint32
	}{
		// 4 steps (96 bytes) plus one 72-byte allocation fit in 168.
		{"constant", Constant{}, []int{4, 3, 2, 1}, 168},
		{"doubling", Doubling{}, []int{4, 3}, 336},
		{"increment", Increment{Bytes: 72}, []int{4, 3, 1}, 312},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := layout.NewRegistry()
			exec := &stubExecutor{reg: reg, threads: 4}
			ks := steps(4, 64)

			var reports []PassReport
			cfg := Config{
				Capacity: 168,
				Growth:   tt.growth,
				Observer: ObserverFunc(func(r PassReport) { reports = append(reports, r) }),
			}
			res, err := newDriver(reg, exec, cfg).Run(context.Background(), seqOf(ks))
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !slices.Equal(exec.batches, tt.batches) {
				t.Errorf("batches = %v, want %v", exec.batches, tt.batches)
			}
			if res.Capacity != tt.capacity {
				t.Errorf("capacity = %d, want %d", res.Capacity, tt.capacity)
			}
			checkIncrementedOnce(t, ks, 4)

			prev := 0
			for i, r := range reports {
				if r.Pass != i+1 || r.Total <= prev {
					t.Errorf("report %d: pass=%d total=%d after %d", i, r.Pass, r.Total, prev)
				}
				prev = r.Total
			}
			if last := reports[len(reports)-1]; last.Exhausted || last.Total != 4 {
				t.Errorf("last report = %+v", last)
			}
		})
	}
}

func TestRun_NarrowsBatchOnZeroProgress(t *testing.T) {
	reg := layout.NewRegistry()
	exec := &stubExecutor{reg: reg, threads: 4}
	ks := steps(2, 64)

	// Two steps plus one allocation need 120 bytes; one step needs 96.
	res, err := newDriver(reg, exec, Config{Capacity: 100}).Run(context.Background(), seqOf(ks))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !slices.Equal(exec.batches, []int{2, 1, 1}) {
		t.Errorf("batches = %v, want [2 1 1]", exec.batches)
	}
	if res.Passes != 3 {
		t.Errorf("passes = %d", res.Passes)
	}
	checkIncrementedOnce(t, ks, 2)
}

func TestRun_HeapExhausted(t *testing.T) {
	reg := layout.NewRegistry()
	exec := &stubExecutor{reg: reg, threads: 4}
	ks := steps(2, 1024)

	res, err := newDriver(reg, exec, Config{Capacity: 64}).Run(context.Background(), seqOf(ks))
	if !stderrors.Is(err, errors.ErrHeapExhausted) {
		t.Fatalf("err = %v, want heap exhausted", err)
	}
	if res.State != Failed || res.Passes != 2 || len(res.Completed) != 0 {
		t.Errorf("state=%v passes=%d completed=%d", res.State, res.Passes, len(res.Completed))
	}
}

func TestRun_FatalErrorKeepsPrefix(t *testing.T) {
	reg := layout.NewRegistry()
	fault := errors.NativeFault(heap.StatusFault, nil)
	exec := &stubExecutor{reg: reg, threads: 4, errAt: 2, err: fault}
	ks := steps(10, 0)

	var last PassReport
	cfg := Config{Capacity: 150, Observer: ObserverFunc(func(r PassReport) { last = r })}
	res, err := newDriver(reg, exec, cfg).Run(context.Background(), seqOf(ks))
	if !stderrors.Is(err, errors.ErrNativeFault) {
		t.Fatalf("err = %v", err)
	}
	if res.State != Failed || len(res.Completed) != 6 {
		t.Errorf("state=%v completed=%d", res.State, len(res.Completed))
	}
	if last.Err != err || last.Total != 6 {
		t.Errorf("last report = %+v", last)
	}
	checkIncrementedOnce(t, ks, 6)
}

func TestRun_InputErrors(t *testing.T) {
	tests := []struct {
		name     string
		capacity uint32
		kernels  []*step
		want     error
	}{
		{"zero capacity", 0, steps(1, 0), errors.ErrInvalidInput},
		{"kernel larger than capacity", 16, steps(1, 0), errors.ErrEncodingOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := layout.NewRegistry()
			exec := &stubExecutor{reg: reg, threads: 1}
			_, err := newDriver(reg, exec, Config{Capacity: tt.capacity}).Run(context.Background(), seqOf(tt.kernels))
			if !stderrors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if exec.calls != 0 {
				t.Errorf("executor called %d times", exec.calls)
			}
		})
	}
}

func TestRun_EmptySequence(t *testing.T) {
	reg := layout.NewRegistry()
	exec := &stubExecutor{reg: reg, threads: 1}
	res, err := newDriver(reg, exec, Config{Capacity: 64}).Run(context.Background(), seqOf(nil))
	if err != nil || res.State != Done || res.Passes != 0 {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestRun_Canceled(t *testing.T) {
	reg := layout.NewRegistry()
	exec := &stubExecutor{reg: reg, threads: 1}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newDriver(reg, exec, Config{Capacity: 1024}).Run(ctx, seqOf(steps(3, 0)))
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestRun_ThreadsPerPass(t *testing.T) {
	reg := layout.NewRegistry()
	var threads []int
	exec := &stubExecutor{reg: reg, threads: 8}
	cfg := Config{
		Capacity:         1024,
		Threads:          3,
		KernelsPerThread: 1,
		Observer:         ObserverFunc(func(r PassReport) { threads = append(threads, r.Threads) }),
	}
	if _, err := newDriver(reg, exec, cfg).Run(context.Background(), seqOf(steps(4, 0))); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(exec.batches, []int{3, 1}) || !slices.Equal(threads, []int{3, 1}) {
		t.Errorf("batches=%v threads=%v", exec.batches, threads)
	}
}

func TestGrowthPolicies(t *testing.T) {
	tests := []struct {
		name   string
		policy GrowthPolicy
		in     uint32
		want   uint32
		grew   bool
	}{
		{"constant", Constant{}, 100, 100, false},
		{"increment", Increment{Bytes: 50}, 100, 150, true},
		{"increment capped", Increment{Bytes: 50, Max: 120}, 100, 120, true},
		{"increment at max", Increment{Bytes: 50, Max: 100}, 100, 100, false},
		{"doubling", Doubling{}, 100, 200, true},
		{"doubling capped", Doubling{Max: 150}, 100, 150, true},
		{"doubling at ceiling", Doubling{}, MaxCapacity, MaxCapacity, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, grew := tt.policy.Grow(tt.in)
			if got != tt.want || grew != tt.grew {
				t.Errorf("Grow(%d) = %d,%v; want %d,%v", tt.in, got, grew, tt.want, tt.grew)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		Pending: "pending", InFlight: "in-flight", PartiallyDone: "partially-done",
		Done: "done", Failed: "failed", State(99): "unknown",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
