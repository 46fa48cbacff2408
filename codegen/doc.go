// Package codegen emits job modules as WebAssembly binaries.
//
// A Program holds one body per kernel class plus a read-only data segment.
// Encode produces a module that imports the support functions from
// "kernelrt", exports its memory, and exports a run dispatcher that loads the
// kernel object, maps its class number through the class reference table and
// calls the matching body.
//
//	p := codegen.NewProgram()
//	f := p.Kernel(cls.ID)
//	f.LocalGet(codegen.ParamObject).
//		LocalGet(codegen.ParamObject).F64Load(codegen.FieldAddr(off)).
//		F64Const(2).F64Mul().
//		F64Store(codegen.FieldAddr(off))
//	f.I32Const(heap.KernelDone)
//	bin, err := p.Encode()
//
// Bodies receive the to-space base, the handle table address, the kernel
// object address, the kernel index and the logical thread. Handles are
// resolved with Deref.
package codegen
