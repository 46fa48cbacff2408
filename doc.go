// Package kernelrt runs data-parallel kernels that reference a shared object
// graph by packing the graph into flat buffers, executing native code against
// those buffers, and unpacking the results.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	kernelrt/        Root package with the Kernel and Memory interfaces
//	├── heap/        The five-region heap buffer set passed across the native boundary
//	├── layout/      Class registry, field layouts, per-pass class reference tables
//	├── transcoder/  Object graph serializer and result deserializer
//	├── bridge/      Native execution bridge: compile/load lifecycle and execute
//	├── engine/      wazero-backed native code provider and kernelrt support module
//	├── codegen/     WebAssembly generator for job-specific kernel code
//	├── job/         Driver turning partial native passes into complete jobs
//	├── config/      TOML configuration
//	├── errors/      Structured error types
//	├── examples/    Demo kernels
//	└── cmd/         kernelrun command
//
// # Pass Protocol
//
// One pass is serialize → execute → deserialize:
//
//	pass, err := enc.Plan(kernels, capacity)
//	bufs := pass.NewBuffers(threads)
//	err = enc.Encode(pass, bufs)
//	status, err := br.Execute(ctx, src, bufs, threads)
//	res, err := dec.Decode(pass, bufs)
//
// The native side bump-allocates inside the to-space. When it runs out it
// raises the exhausted flag in the gc-info record; the deserializer then treats
// every kernel at or after the last started index as not run, and the job
// driver retries those kernels in a fresh, possibly larger, heap.
//
// # Quick Start
//
//	eng, _ := engine.NewWazeroEngine(ctx)
//	defer eng.Close(ctx)
//
//	d := job.NewDriver(bridge.New(eng), reg, src, job.Config{Capacity: 1 << 16})
//	res, err := d.Run(ctx, slices.Values(kernels))
//
// # Thread Safety
//
// The bridge serializes concurrent Execute calls. Encoders, decoders and
// drivers are meant to be used from a single goroutine.
package kernelrt
