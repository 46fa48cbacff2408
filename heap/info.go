package heap

import "fmt"

// GcInfo describes the state of a pass. Native code updates LastStarted before
// each kernel and Flags and HandleCount on allocation.
type GcInfo struct {
	Flags       uint32
	LastStarted int32
	HandleCount uint32
	KernelCount uint32
}

// Exhausted reports whether a native allocation failed during the pass.
func (g GcInfo) Exhausted() bool {
	return g.Flags&FlagExhausted != 0
}

// Info decodes the gc-info record.
func (b *Buffers) Info() GcInfo {
	return GcInfo{
		Flags:       le.Uint32(b.GcInfo[0:]),
		LastStarted: int32(le.Uint32(b.GcInfo[4:])),
		HandleCount: le.Uint32(b.GcInfo[8:]),
		KernelCount: le.Uint32(b.GcInfo[12:]),
	}
}

// SetInfo encodes the gc-info record.
func (b *Buffers) SetInfo(g GcInfo) {
	le.PutUint32(b.GcInfo[0:], g.Flags)
	le.PutUint32(b.GcInfo[4:], uint32(g.LastStarted))
	le.PutUint32(b.GcInfo[8:], g.HandleCount)
	le.PutUint32(b.GcInfo[12:], g.KernelCount)
}

// MarkStarted records kernel k as the last kernel that began execution.
func (b *Buffers) MarkStarted(k int32) {
	le.PutUint32(b.GcInfo[4:], uint32(k))
}

// ExceptionSlot is the decoded content of one per-thread exception slot.
type ExceptionSlot struct {
	Payload []byte
	Kernel  int32
	Class   int32
}

// Empty reports whether no kernel raised on this slot's thread.
func (s ExceptionSlot) Empty() bool {
	return s.Kernel == NoKernel
}

// Threads returns the number of exception slots.
func (b *Buffers) Threads() int {
	return len(b.Exceptions) / SlotSize
}

// Slot decodes the exception slot of thread t.
func (b *Buffers) Slot(t int) (ExceptionSlot, error) {
	if t < 0 || t >= b.Threads() {
		return ExceptionSlot{}, fmt.Errorf("thread %d has no exception slot (threads %d)", t, b.Threads())
	}
	raw := b.Exceptions[t*SlotSize : (t+1)*SlotSize]
	s := ExceptionSlot{
		Kernel: int32(le.Uint32(raw[0:])),
		Class:  int32(le.Uint32(raw[4:])),
	}
	if s.Empty() {
		return s, nil
	}
	n := le.Uint32(raw[8:])
	if n > MaxPayload {
		return ExceptionSlot{}, fmt.Errorf("thread %d exception payload length %d exceeds %d", t, n, MaxPayload)
	}
	s.Payload = append([]byte(nil), raw[slotHeaderSize:slotHeaderSize+n]...)
	return s, nil
}

// Raise records an exception for kernel on thread t. The first exception on a
// thread wins; later ones are dropped.
func (b *Buffers) Raise(t int, kernel, class int32, payload []byte) error {
	if t < 0 || t >= b.Threads() {
		return fmt.Errorf("thread %d has no exception slot (threads %d)", t, b.Threads())
	}
	if len(payload) > MaxPayload {
		payload = payload[:MaxPayload]
	}
	raw := b.Exceptions[t*SlotSize : (t+1)*SlotSize]
	if int32(le.Uint32(raw[0:])) != NoKernel {
		return nil
	}
	le.PutUint32(raw[0:], uint32(kernel))
	le.PutUint32(raw[4:], uint32(class))
	le.PutUint32(raw[8:], uint32(len(payload)))
	copy(raw[slotHeaderSize:], payload)
	return nil
}

// ClearSlots empties every exception slot.
func (b *Buffers) ClearSlots() {
	clear(b.Exceptions)
	for t := 0; t < b.Threads(); t++ {
		le.PutUint32(b.Exceptions[t*SlotSize:], noKernelWord)
	}
}

// AnyException reports whether at least one slot is populated.
func (b *Buffers) AnyException() bool {
	for t := 0; t < b.Threads(); t++ {
		if int32(le.Uint32(b.Exceptions[t*SlotSize:])) != NoKernel {
			return true
		}
	}
	return false
}
