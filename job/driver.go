package job

import (
	"context"
	"iter"

	"go.uber.org/zap"

	kernelrt "github.com/wippyai/kernel-runtime"
	"github.com/wippyai/kernel-runtime/bridge"
	"github.com/wippyai/kernel-runtime/errors"
	"github.com/wippyai/kernel-runtime/heap"
	"github.com/wippyai/kernel-runtime/layout"
	"github.com/wippyai/kernel-runtime/transcoder"
)

// Executor runs one pass. *bridge.Bridge implements it.
type Executor interface {
	Execute(ctx context.Context, src bridge.Source, bufs *heap.Buffers, threads int) (int32, error)
	MaxThreads() int
}

// DefaultKernelsPerThread bounds a batch when Config leaves it unset.
const DefaultKernelsPerThread = 64

// Config controls batching and retry.
type Config struct {
	// Capacity is the to-space size of the first pass.
	Capacity uint32

	// Growth sizes retries after exhaustion. Nil keeps capacity constant.
	Growth GrowthPolicy

	// Threads caps threads per pass. Zero uses the executor's limit.
	Threads int

	// KernelsPerThread bounds the batch at Threads*KernelsPerThread.
	KernelsPerThread int

	Observer PassObserver
}

// Result is the outcome of a job.
type Result struct {
	// Completed lists the committed kernels in submission order.
	Completed []kernelrt.Kernel

	// Exception is the first kernel exception, if the job stopped on one.
	Exception error

	Passes    int
	Allocated int
	Capacity  uint32
	State     State
}

// Driver runs a sequence of kernels to completion through repeated passes.
// A Driver is not safe for concurrent Run calls.
type Driver struct {
	exec Executor
	enc  *transcoder.Encoder
	dec  *transcoder.Decoder
	src  bridge.Source
	cfg  Config
}

// NewDriver creates a driver that executes src through exec.
func NewDriver(exec Executor, reg *layout.Registry, src bridge.Source, cfg Config) *Driver {
	if cfg.Growth == nil {
		cfg.Growth = Constant{}
	}
	if cfg.KernelsPerThread <= 0 {
		cfg.KernelsPerThread = DefaultKernelsPerThread
	}
	return &Driver{
		exec: exec,
		enc:  transcoder.NewEncoder(reg),
		dec:  transcoder.NewDecoder(reg),
		src:  src,
		cfg:  cfg,
	}
}

func (d *Driver) maxThreads() int {
	n := d.exec.MaxThreads()
	if d.cfg.Threads > 0 && (n <= 0 || d.cfg.Threads < n) {
		n = d.cfg.Threads
	}
	return max(n, 1)
}

// Run pulls kernels from seq lazily and executes them until the sequence is
// drained or the job fails. Kernels left over by an exhausted pass are retried
// with capacity grown by the growth policy. The first kernel exception stops
// the job: kernels before it stay committed, later ones are never committed
// and no more kernels are pulled. On error the returned Result still holds the
// committed prefix.
func (d *Driver) Run(ctx context.Context, seq iter.Seq[kernelrt.Kernel]) (*Result, error) {
	next, stop := iter.Pull(seq)
	defer stop()

	if d.cfg.Capacity == 0 {
		return &Result{State: Failed}, errors.InvalidInput(errors.PhaseDrive, "capacity must be positive")
	}

	threads := d.maxThreads()
	maxBatch := threads * d.cfg.KernelsPerThread
	limit := maxBatch

	res := &Result{Capacity: d.cfg.Capacity, State: Pending}
	var pending []kernelrt.Kernel
	drained := false

	for {
		for !drained && len(pending) < limit {
			k, ok := next()
			if !ok {
				drained = true
				break
			}
			pending = append(pending, k)
		}
		if len(pending) == 0 {
			res.State = Done
			Logger().Debug("job done",
				zap.Int("passes", res.Passes),
				zap.Int("kernels", len(res.Completed)))
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			res.State = Failed
			return res, err
		}

		res.State = InFlight
		pr, err := d.pass(ctx, pending[:min(len(pending), limit)], res.Capacity, threads)
		res.Passes++
		pr.Pass = res.Passes
		if err != nil {
			pr.Err = err
			pr.Total = len(res.Completed)
			d.report(pr.PassReport)
			res.State = Failed
			return res, err
		}

		committed := pr.result.Committed
		res.Completed = append(res.Completed, pending[:committed]...)
		res.Allocated += pr.result.Allocated
		pending = pending[committed:]
		pr.Total = len(res.Completed)
		d.report(pr.PassReport)

		if _, exc := pr.result.FirstException(); exc != nil {
			res.Exception = exc
			res.State = Failed
			return res, exc
		}

		switch {
		case committed > 0:
			limit = maxBatch
			if pr.result.Exhausted {
				if c, ok := d.cfg.Growth.Grow(res.Capacity); ok {
					res.Capacity = c
				}
			}
		case pr.result.Exhausted:
			if c, ok := d.cfg.Growth.Grow(res.Capacity); ok {
				res.Capacity = c
			} else if pr.Kernels > 1 {
				limit = 1
			} else {
				res.State = Failed
				return res, errors.HeapExhausted(res.Capacity)
			}
		default:
			res.State = Failed
			return res, errors.CorruptHeap("pass committed no kernels without exhaustion or exception")
		}
		res.State = PartiallyDone
	}
}

type passResult struct {
	PassReport
	result *transcoder.Result
}

func (d *Driver) pass(ctx context.Context, batch []kernelrt.Kernel, capacity uint32, maxThreads int) (passResult, error) {
	pr := passResult{PassReport: PassReport{Capacity: capacity}}

	p, err := d.enc.Plan(batch, capacity)
	if err != nil {
		return pr, err
	}
	pr.Kernels = len(p.Kernels)
	pr.Threads = min(len(p.Kernels), maxThreads)

	bufs := p.NewBuffers(pr.Threads)
	if err := d.enc.Encode(p, bufs); err != nil {
		return pr, err
	}

	status, err := d.exec.Execute(ctx, d.src, bufs, pr.Threads)
	pr.Status = status
	if err != nil {
		return pr, err
	}

	r, err := d.dec.Decode(p, bufs)
	if err != nil {
		return pr, err
	}
	pr.result = r
	pr.Completed = r.CompletedCount
	pr.Committed = r.Committed
	pr.Allocated = r.Allocated
	pr.Exhausted = r.Exhausted

	Logger().Debug("pass finished",
		zap.Int("kernels", pr.Kernels),
		zap.Int("committed", pr.Committed),
		zap.Int("threads", pr.Threads),
		zap.Uint32("capacity", capacity),
		zap.Bool("exhausted", pr.Exhausted),
		zap.Int32("status", status))
	return pr, nil
}

func (d *Driver) report(r PassReport) {
	if d.cfg.Observer != nil {
		d.cfg.Observer.OnPass(r)
	}
}
