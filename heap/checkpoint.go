package heap

// Checkpoint is the heap state captured before one kernel runs: the used
// to-space prefix, the cursor and the handle count.
type Checkpoint struct {
	space   []byte
	end     uint32
	handles uint32
}

// Save records the current state of b into c, reusing c's storage.
func (c *Checkpoint) Save(b *Buffers) {
	end := min(b.End(), b.Capacity())
	c.space = append(c.space[:0], b.ToSpace[:end]...)
	c.end = end
	c.handles = b.Info().HandleCount
}

// Restore undoes every to-space write and native allocation made since Save.
// Flags, LastStarted and exception slots are kept. An exhausted heap keeps its
// cursor pinned at capacity.
func (c *Checkpoint) Restore(b *Buffers) {
	copy(b.ToSpace, c.space)
	info := b.Info()
	info.HandleCount = c.handles
	b.SetInfo(info)
	if !info.Exhausted() {
		b.setEnd(c.end)
	}
}
