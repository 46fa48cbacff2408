package heap

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the size of every object header: class number (i32)
	// followed by the payload length (u32, element count for arrays).
	HeaderSize uint32 = 8

	// ObjectAlign is the alignment of every object start in the to-space.
	ObjectAlign uint32 = 8

	// NullRef encodes a nil reference inside the to-space.
	NullRef uint32 = 0xFFFFFFFF

	// GcInfoSize is the size of the gc-info record.
	GcInfoSize = 16

	// SlotSize is the size of one per-thread exception slot.
	SlotSize = 256

	slotHeaderSize = 12

	// MaxPayload is the largest exception payload a slot can hold.
	MaxPayload = SlotSize - slotHeaderSize

	// NoKernel marks an empty exception slot and a pass where no kernel started.
	NoKernel int32 = -1

	// noKernelWord is NoKernel as stored in a slot.
	noKernelWord uint32 = 0xFFFFFFFF
)

const (
	// FlagExhausted is set when a native allocation did not fit.
	FlagExhausted uint32 = 1 << 0
)

// Exit status of one native call.
const (
	StatusOK        int32 = 0
	StatusFault     int32 = 1
	StatusException int32 = 2
)

// Result of one kernel body, returned by native code to its dispatcher.
const (
	KernelDone      int32 = 0
	KernelExhausted int32 = 1
	KernelRaised    int32 = 2
)

var le = binary.LittleEndian

// Buffers is the heap buffer set of one pass. The five byte regions are passed
// to native code; ClassRefs maps class numbers used in object headers to
// registry class ids.
type Buffers struct {
	ToSpace    []byte
	Handles    []byte
	HeapEnd    []byte
	GcInfo     []byte
	Exceptions []byte
	ClassRefs  []int32
}

// New allocates a zeroed buffer set.
func New(capacity, maxHandles uint32, threads int) *Buffers {
	if threads < 1 {
		threads = 1
	}
	b := &Buffers{
		ToSpace:    make([]byte, capacity),
		Handles:    make([]byte, 4*int(maxHandles)),
		HeapEnd:    make([]byte, 4),
		GcInfo:     make([]byte, GcInfoSize),
		Exceptions: make([]byte, SlotSize*threads),
	}
	b.SetInfo(GcInfo{LastStarted: NoKernel})
	b.ClearSlots()
	return b
}

// Capacity returns the to-space capacity in bytes.
func (b *Buffers) Capacity() uint32 {
	return uint32(len(b.ToSpace))
}

// End returns the heap-end cursor.
func (b *Buffers) End() uint32 {
	return le.Uint32(b.HeapEnd)
}

func (b *Buffers) setEnd(v uint32) {
	le.PutUint32(b.HeapEnd, v)
}

// Remaining returns the number of unused to-space bytes.
func (b *Buffers) Remaining() uint32 {
	end := b.End()
	if end >= b.Capacity() {
		return 0
	}
	return b.Capacity() - end
}

// Alloc bump-allocates size bytes with the given alignment on the host side.
// It reports false when the request does not fit; the cursor is unchanged.
func (b *Buffers) Alloc(size, align uint32) (uint32, bool) {
	off := alignUp64(uint64(b.End()), uint64(align))
	next := off + uint64(size)
	if next > uint64(b.Capacity()) {
		return 0, false
	}
	b.setEnd(uint32(next))
	return uint32(off), true
}

// MaxHandles returns the handle table capacity.
func (b *Buffers) MaxHandles() uint32 {
	return uint32(len(b.Handles) / 4)
}

// SetHandle records the to-space offset of handle h.
func (b *Buffers) SetHandle(h, offset uint32) {
	le.PutUint32(b.Handles[4*h:], offset)
}

// HandleOffset returns the to-space offset of handle h.
func (b *Buffers) HandleOffset(h uint32) (uint32, bool) {
	if h >= b.Info().HandleCount || h >= b.MaxHandles() {
		return 0, false
	}
	return le.Uint32(b.Handles[4*h:]), true
}

// Object is a decoded object header.
type Object struct {
	Offset uint32
	Class  int32
	Length uint32
}

// Payload returns the offset of the first byte after the header.
func (o Object) Payload() uint32 {
	return o.Offset + HeaderSize
}

// Object resolves handle h to its header. Any inconsistency between the
// handle table and the cursor is reported as an error.
func (b *Buffers) Object(h uint32) (Object, error) {
	off, ok := b.HandleOffset(h)
	if !ok {
		return Object{}, fmt.Errorf("handle %d not in table (count %d)", h, b.Info().HandleCount)
	}
	if uint64(off)+uint64(HeaderSize) > uint64(b.End()) || b.End() > b.Capacity() {
		return Object{}, fmt.Errorf("handle %d offset %d beyond heap end %d", h, off, b.End())
	}
	return Object{
		Offset: off,
		Class:  int32(le.Uint32(b.ToSpace[off:])),
		Length: le.Uint32(b.ToSpace[off+4:]),
	}, nil
}

// WriteHeader writes an object header at off.
func (b *Buffers) WriteHeader(off uint32, class int32, length uint32) {
	le.PutUint32(b.ToSpace[off:], uint32(class))
	le.PutUint32(b.ToSpace[off+4:], length)
}

// Allocate is the native-side allocator: it reserves an object of class with
// size payload bytes, appends a handle for it and returns the handle. When the
// object does not fit it raises FlagExhausted, pins the cursor at capacity and
// returns NullRef. Once exhausted, every further call returns NullRef.
func (b *Buffers) Allocate(class int32, length, size uint32) uint32 {
	info := b.Info()
	if info.Exhausted() {
		return NullRef
	}

	off := alignUp64(uint64(b.End()), uint64(ObjectAlign))
	next := alignUp64(off+uint64(HeaderSize)+uint64(size), uint64(ObjectAlign))
	if next > uint64(b.Capacity()) || info.HandleCount >= b.MaxHandles() {
		info.Flags |= FlagExhausted
		b.SetInfo(info)
		b.setEnd(b.Capacity())
		return NullRef
	}

	clear(b.ToSpace[off:next])
	b.WriteHeader(uint32(off), class, length)
	b.setEnd(uint32(next))

	h := info.HandleCount
	b.SetHandle(h, uint32(off))
	info.HandleCount++
	b.SetInfo(info)
	return h
}

// ClassNumber returns the class number of registry class id, appending it to
// ClassRefs when the pass has not used it yet.
func (b *Buffers) ClassNumber(id int32) int32 {
	for i, ref := range b.ClassRefs {
		if ref == id {
			return int32(i)
		}
	}
	b.ClassRefs = append(b.ClassRefs, id)
	return int32(len(b.ClassRefs) - 1)
}

// ClassRef returns the registry class id of class number n.
func (b *Buffers) ClassRef(n int32) (int32, bool) {
	if n < 0 || int(n) >= len(b.ClassRefs) {
		return 0, false
	}
	return b.ClassRefs[n], true
}

// Space returns the to-space as a Memory.
func (b *Buffers) Space() Region {
	return Region(b.ToSpace)
}

func alignUp64(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}
