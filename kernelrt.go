package kernelrt

// Kernel is one data-parallel unit of work. Implementations are pointers to
// registered structs; their fields and everything reachable from them are
// packed into the to-space for each pass.
type Kernel interface {
	// KernelClass names the registered class whose native body runs this kernel.
	KernelClass() string
}

// Memory is a little-endian byte region shared with native code.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU16(offset uint32) (uint16, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU8(offset uint32, value uint8) error
	WriteU16(offset uint32, value uint16) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// MemorySizer provides the current size of a region in bytes.
type MemorySizer interface {
	Size() uint32
}
