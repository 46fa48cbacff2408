package heap

import (
	"fmt"
)

// Layout places the regions of a buffer set contiguously in native linear
// memory. Every region starts on an 8-byte boundary.
type Layout struct {
	ToSpace    uint32
	Handles    uint32
	HeapEnd    uint32
	GcInfo     uint32
	Exceptions uint32
	ClassRefs  uint32
	Total      uint32
}

// Layout computes the placement of b starting at base.
func (b *Buffers) Layout(base uint32) Layout {
	var l Layout
	off := alignUp64(uint64(base), 8)
	place := func(n int) uint32 {
		at := uint32(off)
		off = alignUp64(off+uint64(n), 8)
		return at
	}
	l.ToSpace = place(len(b.ToSpace))
	l.Handles = place(len(b.Handles))
	l.HeapEnd = place(len(b.HeapEnd))
	l.GcInfo = place(len(b.GcInfo))
	l.Exceptions = place(len(b.Exceptions))
	l.ClassRefs = place(4 * len(b.ClassRefs))
	l.Total = uint32(off)
	return l
}

// CopyTo writes every region into mem at the offsets of l.
func (b *Buffers) CopyTo(mem []byte, l Layout) error {
	if uint64(l.Total) > uint64(len(mem)) {
		return fmt.Errorf("layout needs %d bytes, memory has %d", l.Total, len(mem))
	}
	copy(mem[l.ToSpace:], b.ToSpace)
	copy(mem[l.Handles:], b.Handles)
	copy(mem[l.HeapEnd:], b.HeapEnd)
	copy(mem[l.GcInfo:], b.GcInfo)
	copy(mem[l.Exceptions:], b.Exceptions)
	for i, ref := range b.ClassRefs {
		le.PutUint32(mem[l.ClassRefs+uint32(4*i):], uint32(ref))
	}
	return nil
}

// CopyFrom reads the mutable regions back from mem. The class reference
// table is host-owned and is not read back.
func (b *Buffers) CopyFrom(mem []byte, l Layout) error {
	if uint64(l.Total) > uint64(len(mem)) {
		return fmt.Errorf("layout needs %d bytes, memory has %d", l.Total, len(mem))
	}
	copy(b.ToSpace, mem[l.ToSpace:])
	copy(b.Handles, mem[l.Handles:])
	copy(b.HeapEnd, mem[l.HeapEnd:])
	copy(b.GcInfo, mem[l.GcInfo:])
	copy(b.Exceptions, mem[l.Exceptions:])
	return nil
}

// View returns a buffer set whose regions alias mem at the offsets of l.
// Mutations through the view land directly in mem. ClassRefs starts as a copy
// of src's table.
func View(mem []byte, l Layout, src *Buffers) (*Buffers, error) {
	if uint64(l.Total) > uint64(len(mem)) {
		return nil, fmt.Errorf("layout needs %d bytes, memory has %d", l.Total, len(mem))
	}
	sub := func(at uint32, n int) []byte {
		return mem[at : at+uint32(n) : at+uint32(n)]
	}
	return &Buffers{
		ToSpace:    sub(l.ToSpace, len(src.ToSpace)),
		Handles:    sub(l.Handles, len(src.Handles)),
		HeapEnd:    sub(l.HeapEnd, len(src.HeapEnd)),
		GcInfo:     sub(l.GcInfo, len(src.GcInfo)),
		Exceptions: sub(l.Exceptions, len(src.Exceptions)),
		ClassRefs:  append([]int32(nil), src.ClassRefs...),
	}, nil
}
