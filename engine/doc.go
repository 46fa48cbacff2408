// Package engine runs generated job modules on wazero.
//
// WazeroEngine implements bridge.NativeCodeProvider. The support module is a
// host module named "kernelrt" exporting three functions to guest code:
//
//	alloc(class, length, size) -> handle  allocate a zeroed object, -1 when exhausted
//	throw(thread, kernel, class, ptr, len) record a CBOR exception payload
//	raise(thread, kernel, ptr, len)        record a KernelError with a message
//
// A job module must export "memory" and "run". For each pass the module is
// instantiated fresh, the buffer regions are placed above its initial memory
// and run is called once per kernel:
//
//	run(toSpace, handles, classRefs, kernel, thread) -> 0 done | 1 exhausted | 2 raised
//
// Kernels run in index order on one instance; thread only selects the
// exception slot. A pass stops at the first kernel that does not return done.
//
// Sources that are not wasm binaries are compiled with a Toolchain, by default
// wat2wasm (wat2wasm.exe on Windows) run in a work directory.
//
// # Thread Safety
//
// WazeroEngine serializes passes internally. Module values are safe to share.
package engine
