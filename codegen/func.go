package codegen

// Func is a function body under construction. Instruction helpers append to
// the body in order; the closing end is added when the program is encoded.
type Func struct {
	params  []ValType
	results []ValType
	locals  []ValType
	code    writer
	depth   int
}

// Local declares a new local of type t and returns its index.
func (f *Func) Local(t ValType) uint32 {
	f.locals = append(f.locals, t)
	return uint32(len(f.params) + len(f.locals) - 1)
}

func (f *Func) op(b byte) *Func {
	f.code.Byte(b)
	return f
}

func (f *Func) memop(b byte, align, offset uint32) *Func {
	f.code.Byte(b)
	f.code.WriteU32(align)
	f.code.WriteU32(offset)
	return f
}

func (f *Func) LocalGet(i uint32) *Func {
	f.code.Byte(opLocalGet)
	f.code.WriteU32(i)
	return f
}

func (f *Func) LocalSet(i uint32) *Func {
	f.code.Byte(opLocalSet)
	f.code.WriteU32(i)
	return f
}

func (f *Func) LocalTee(i uint32) *Func {
	f.code.Byte(opLocalTee)
	f.code.WriteU32(i)
	return f
}

func (f *Func) I32Const(v int32) *Func {
	f.code.Byte(opI32Const)
	f.code.WriteS32(v)
	return f
}

func (f *Func) I64Const(v int64) *Func {
	f.code.Byte(opI64Const)
	f.code.WriteS64(v)
	return f
}

func (f *Func) F64Const(v float64) *Func {
	f.code.Byte(opF64Const)
	f.code.WriteF64(v)
	return f
}

// Loads and stores take a static byte offset added to the address operand.

func (f *Func) I32Load(offset uint32) *Func   { return f.memop(opI32Load, 2, offset) }
func (f *Func) I64Load(offset uint32) *Func   { return f.memop(opI64Load, 3, offset) }
func (f *Func) F32Load(offset uint32) *Func   { return f.memop(opF32Load, 2, offset) }
func (f *Func) F64Load(offset uint32) *Func   { return f.memop(opF64Load, 3, offset) }
func (f *Func) I32Load8U(offset uint32) *Func { return f.memop(opI32Load8U, 0, offset) }
func (f *Func) I32Store(offset uint32) *Func  { return f.memop(opI32Store, 2, offset) }
func (f *Func) I64Store(offset uint32) *Func  { return f.memop(opI64Store, 3, offset) }
func (f *Func) F32Store(offset uint32) *Func  { return f.memop(opF32Store, 2, offset) }
func (f *Func) F64Store(offset uint32) *Func  { return f.memop(opF64Store, 3, offset) }
func (f *Func) I32Store8(offset uint32) *Func { return f.memop(opI32Store8, 0, offset) }

func (f *Func) I32Eqz() *Func { return f.op(opI32Eqz) }
func (f *Func) I32Eq() *Func  { return f.op(opI32Eq) }
func (f *Func) I32Ne() *Func  { return f.op(opI32Ne) }
func (f *Func) I32LtS() *Func { return f.op(opI32LtS) }
func (f *Func) I32LtU() *Func { return f.op(opI32LtU) }
func (f *Func) I32GeU() *Func { return f.op(opI32GeU) }
func (f *Func) I32Add() *Func { return f.op(opI32Add) }
func (f *Func) I32Sub() *Func { return f.op(opI32Sub) }
func (f *Func) I32Mul() *Func { return f.op(opI32Mul) }
func (f *Func) I32Shl() *Func { return f.op(opI32Shl) }
func (f *Func) I64Eqz() *Func { return f.op(opI64Eqz) }
func (f *Func) I64LtS() *Func { return f.op(opI64LtS) }
func (f *Func) I64Add() *Func { return f.op(opI64Add) }
func (f *Func) I64Mul() *Func { return f.op(opI64Mul) }
func (f *Func) F64Lt() *Func  { return f.op(opF64Lt) }
func (f *Func) F64Add() *Func { return f.op(opF64Add) }
func (f *Func) F64Sub() *Func { return f.op(opF64Sub) }
func (f *Func) F64Mul() *Func { return f.op(opF64Mul) }
func (f *Func) F64Div() *Func { return f.op(opF64Div) }

func (f *Func) Drop() *Func        { return f.op(opDrop) }
func (f *Func) Return() *Func      { return f.op(opReturn) }
func (f *Func) Unreachable() *Func { return f.op(opUnreachable) }

func (f *Func) Call(idx uint32) *Func {
	f.code.Byte(opCall)
	f.code.WriteU32(idx)
	return f
}

// Block, Loop and If open a structured block with an empty block type.

func (f *Func) Block() *Func {
	f.depth++
	f.code.Byte(opBlock)
	f.code.Byte(blockTypeEmpty)
	return f
}

func (f *Func) Loop() *Func {
	f.depth++
	f.code.Byte(opLoop)
	f.code.Byte(blockTypeEmpty)
	return f
}

func (f *Func) If() *Func {
	f.depth++
	f.code.Byte(opIf)
	f.code.Byte(blockTypeEmpty)
	return f
}

func (f *Func) Else() *Func {
	return f.op(opElse)
}

// End closes the innermost open block.
func (f *Func) End() *Func {
	f.depth--
	return f.op(opEnd)
}

func (f *Func) Br(depth uint32) *Func {
	f.code.Byte(opBr)
	f.code.WriteU32(depth)
	return f
}

func (f *Func) BrIf(depth uint32) *Func {
	f.code.Byte(opBrIf)
	f.code.WriteU32(depth)
	return f
}

// body encodes the locals vector and the instructions followed by end.
func (f *Func) body() []byte {
	var w writer
	// Consecutive locals of one type share an entry.
	type group struct {
		t ValType
		n uint32
	}
	var groups []group
	for _, t := range f.locals {
		if n := len(groups); n > 0 && groups[n-1].t == t {
			groups[n-1].n++
			continue
		}
		groups = append(groups, group{t: t, n: 1})
	}
	w.WriteU32(uint32(len(groups)))
	for _, g := range groups {
		w.WriteU32(g.n)
		w.Byte(byte(g.t))
	}
	w.WriteBytes(f.code.Bytes())
	w.Byte(opEnd)
	return w.Bytes()
}
