package codegen

import (
	"fmt"

	"github.com/wippyai/kernel-runtime/errors"
	"github.com/wippyai/kernel-runtime/heap"
)

// Names shared with the support module.
const (
	SupportModule = "kernelrt"
	ImportAlloc   = "alloc" // (class, length, size) -> handle
	ImportThrow   = "throw" // (thread, kernel, class, ptr, len)
	ImportRaise   = "raise" // (thread, kernel, ptr, len)
	ExportRun     = "run"   // (base, handles, classRefs, kernel, thread) -> status
	ExportMemory  = "memory"
)

// Function indices of the support imports.
const (
	FuncAlloc uint32 = iota
	FuncThrow
	FuncRaise
	numImports
)

const funcRun = numImports

// Parameters of a kernel body.
const (
	ParamBase    uint32 = iota // guest address of the to-space
	ParamHandles               // guest address of the handle table
	ParamObject                // guest address of the kernel object
	ParamKernel                // kernel index in the pass
	ParamThread                // logical thread
	numParams
)

// Parameters of run that differ from a kernel body.
const runParamClassRefs uint32 = 2

const pageSize = 65536

// Program is a job-specific translation unit: one native body per kernel
// class and a dispatcher exported as run.
type Program struct {
	bodies   []kernelBody
	data     []byte
	dataBase uint32
	MinPages uint32
}

type kernelBody struct {
	fn    *Func
	class int32
}

func NewProgram() *Program {
	return &Program{dataBase: 1024, MinPages: 1}
}

func kernelSignature() *Func {
	return &Func{
		params:  []ValType{I32, I32, I32, I32, I32},
		results: []ValType{I32},
	}
}

// Kernel returns the body for kernel class id. The body returns
// heap.KernelDone, heap.KernelExhausted or heap.KernelRaised.
func (p *Program) Kernel(class int32) *Func {
	f := kernelSignature()
	p.bodies = append(p.bodies, kernelBody{fn: f, class: class})
	return f
}

// Data places b in the data segment and returns its guest address.
func (p *Program) Data(b []byte) (uint32, uint32) {
	for len(p.data)%8 != 0 {
		p.data = append(p.data, 0)
	}
	at := p.dataBase + uint32(len(p.data))
	p.data = append(p.data, b...)
	return at, uint32(len(b))
}

// Encode emits the wasm binary.
func (p *Program) Encode() ([]byte, error) {
	seen := make(map[int32]bool, len(p.bodies))
	for i, b := range p.bodies {
		if seen[b.class] {
			return nil, errors.New(errors.PhaseCodegen, errors.KindInvalidInput).
				Detail("class %d has more than one body", b.class).
				Build()
		}
		seen[b.class] = true
		if b.fn.depth != 0 {
			return nil, errors.New(errors.PhaseCodegen, errors.KindInvalidInput).
				Detail("body %d for class %d has %d unclosed blocks", i, b.class, b.fn.depth).
				Build()
		}
	}
	if end := uint64(p.dataBase) + uint64(len(p.data)); end > uint64(p.MinPages)*pageSize {
		return nil, errors.New(errors.PhaseCodegen, errors.KindInvalidInput).
			Detail("data segment ends at %d beyond %d initial pages", end, p.MinPages).
			Build()
	}

	w := &writer{}
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	// Types: alloc, throw, raise, body.
	sec := &writer{}
	sec.WriteU32(4)
	writeFuncType(sec, []ValType{I32, I32, I32}, []ValType{I32})
	writeFuncType(sec, []ValType{I32, I32, I32, I32, I32}, nil)
	writeFuncType(sec, []ValType{I32, I32, I32, I32}, nil)
	writeFuncType(sec, []ValType{I32, I32, I32, I32, I32}, []ValType{I32})
	writeSection(w, sectionType, sec.Bytes())

	sec = &writer{}
	sec.WriteU32(numImports)
	for i, name := range []string{ImportAlloc, ImportThrow, ImportRaise} {
		sec.WriteName(SupportModule)
		sec.WriteName(name)
		sec.Byte(kindFunc)
		sec.WriteU32(uint32(i))
	}
	writeSection(w, sectionImport, sec.Bytes())

	sec = &writer{}
	sec.WriteU32(uint32(1 + len(p.bodies)))
	for i := 0; i <= len(p.bodies); i++ {
		sec.WriteU32(3)
	}
	writeSection(w, sectionFunction, sec.Bytes())

	sec = &writer{}
	sec.WriteU32(1)
	sec.Byte(0x00) // min only
	sec.WriteU32(p.MinPages)
	writeSection(w, sectionMemory, sec.Bytes())

	sec = &writer{}
	sec.WriteU32(2)
	sec.WriteName(ExportMemory)
	sec.Byte(kindMemory)
	sec.WriteU32(0)
	sec.WriteName(ExportRun)
	sec.Byte(kindFunc)
	sec.WriteU32(funcRun)
	writeSection(w, sectionExport, sec.Bytes())

	sec = &writer{}
	sec.WriteU32(uint32(1 + len(p.bodies)))
	writeBody(sec, p.dispatcher())
	for _, b := range p.bodies {
		writeBody(sec, b.fn)
	}
	writeSection(w, sectionCode, sec.Bytes())

	if len(p.data) > 0 {
		sec = &writer{}
		sec.WriteU32(1)
		sec.WriteU32(0) // active, memory 0
		sec.Byte(opI32Const)
		sec.WriteS32(int32(p.dataBase))
		sec.Byte(opEnd)
		sec.WriteU32(uint32(len(p.data)))
		sec.WriteBytes(p.data)
		writeSection(w, sectionData, sec.Bytes())
	}

	return w.Bytes(), nil
}

// dispatcher resolves the kernel object, maps its class number through the
// class reference table and calls the matching body. Unknown classes trap.
func (p *Program) dispatcher() *Func {
	f := kernelSignature()
	obj := f.Local(I32)
	class := f.Local(I32)

	f.LocalGet(ParamBase)
	f.LocalGet(ParamHandles).LocalGet(ParamKernel).I32Const(2).I32Shl().I32Add().I32Load(0)
	f.I32Add().LocalTee(obj)
	f.I32Load(0).I32Const(2).I32Shl().LocalGet(runParamClassRefs).I32Add().I32Load(0)
	f.LocalSet(class)

	for i, b := range p.bodies {
		f.LocalGet(class).I32Const(b.class).I32Eq()
		f.If()
		f.LocalGet(ParamBase).LocalGet(ParamHandles).LocalGet(obj).LocalGet(ParamKernel).LocalGet(ParamThread)
		f.Call(funcRun + 1 + uint32(i))
		f.Return()
		f.End()
	}
	f.Unreachable()
	return f
}

func writeFuncType(w *writer, params, results []ValType) {
	w.Byte(funcTypeByte)
	w.WriteU32(uint32(len(params)))
	for _, t := range params {
		w.Byte(byte(t))
	}
	w.WriteU32(uint32(len(results)))
	for _, t := range results {
		w.Byte(byte(t))
	}
}

func writeBody(w *writer, f *Func) {
	body := f.body()
	w.WriteU32(uint32(len(body)))
	w.WriteBytes(body)
}

// Deref replaces the handle on top of the stack with the guest address of
// its object header. It is valid inside kernel bodies.
func (f *Func) Deref() *Func {
	f.I32Const(2).I32Shl().LocalGet(ParamHandles).I32Add().I32Load(0)
	return f.LocalGet(ParamBase).I32Add()
}

// Length replaces an object address with its header length.
func (f *Func) Length() *Func {
	return f.I32Load(4)
}

// FieldAddr is the static load/store offset of a payload field.
func FieldAddr(fieldOffset uint32) uint32 {
	return heap.HeaderSize + fieldOffset
}

// String returns a readable summary of p.
func (p *Program) String() string {
	return fmt.Sprintf("program{bodies=%d data=%d pages=%d}", len(p.bodies), len(p.data), p.MinPages)
}
