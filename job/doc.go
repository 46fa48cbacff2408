// Package job drives kernels through the native bridge until every kernel has
// completed or the job fails.
//
// Each pass plans as many pending kernels as fit the current capacity and
// batch bound, encodes them into a fresh buffer set, executes them, and
// decodes the committed prefix. Kernels after the prefix are retried in the
// next pass. A pass that commits nothing grows capacity through the
// GrowthPolicy; when capacity cannot grow the batch is narrowed to a single
// kernel, and a single kernel that still cannot finish fails the job with
// HeapExhausted.
//
// Progress is monotonic: a kernel is committed exactly once, and committed
// kernels keep submission order across passes.
//
//	d := job.NewDriver(b, reg, src, job.Config{
//		Capacity: 1 << 20,
//		Growth:   job.Doubling{Max: 1 << 26},
//	})
//	res, err := d.Run(ctx, slices.Values(kernels))
//
// A kernel that exhausts the heap, raises or traps leaves no trace: its heap
// writes and native allocations are undone before the pass is decoded, so a
// retried kernel observes shared objects exactly as its predecessors left them.
package job
