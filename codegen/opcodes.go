package codegen

// WebAssembly binary format magic number and version.
const (
	Magic   uint32 = 0x6D736100
	Version uint32 = 0x01
)

// Section IDs, in the order they are emitted.
const (
	sectionType     byte = 1
	sectionImport   byte = 2
	sectionFunction byte = 3
	sectionMemory   byte = 5
	sectionExport   byte = 7
	sectionCode     byte = 10
	sectionData     byte = 11
)

const (
	kindFunc   byte = 0
	kindMemory byte = 2
)

// ValType is a core value type.
type ValType byte

const (
	I32 ValType = 0x7F
	I64 ValType = 0x7E
	F32 ValType = 0x7D
	F64 ValType = 0x7C
)

const (
	funcTypeByte   byte = 0x60
	blockTypeEmpty byte = 0x40
)

// Opcodes used by generated code.
const (
	opUnreachable byte = 0x00
	opBlock       byte = 0x02
	opLoop        byte = 0x03
	opIf          byte = 0x04
	opElse        byte = 0x05
	opEnd         byte = 0x0B
	opBr          byte = 0x0C
	opBrIf        byte = 0x0D
	opReturn      byte = 0x0F
	opCall        byte = 0x10
	opDrop        byte = 0x1A

	opLocalGet byte = 0x20
	opLocalSet byte = 0x21
	opLocalTee byte = 0x22

	opI32Load   byte = 0x28
	opI64Load   byte = 0x29
	opF32Load   byte = 0x2A
	opF64Load   byte = 0x2B
	opI32Load8U byte = 0x2D
	opI32Store  byte = 0x36
	opI64Store  byte = 0x37
	opF32Store  byte = 0x38
	opF64Store  byte = 0x39
	opI32Store8 byte = 0x3A

	opI32Const byte = 0x41
	opI64Const byte = 0x42
	opF64Const byte = 0x44

	opI32Eqz byte = 0x45
	opI32Eq  byte = 0x46
	opI32Ne  byte = 0x47
	opI32LtS byte = 0x48
	opI32LtU byte = 0x49
	opI32GeU byte = 0x4F

	opI64Eqz byte = 0x50
	opI64LtS byte = 0x53
	opF64Lt  byte = 0x63

	opI32Add byte = 0x6A
	opI32Sub byte = 0x6B
	opI32Mul byte = 0x6C
	opI32Shl byte = 0x74

	opI64Add byte = 0x7C
	opI64Mul byte = 0x7E

	opF64Add byte = 0xA0
	opF64Sub byte = 0xA1
	opF64Mul byte = 0xA2
	opF64Div byte = 0xA3
)
