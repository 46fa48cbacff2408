package job

// MaxCapacity is the largest to-space a pass may use.
const MaxCapacity uint32 = 1 << 30

// GrowthPolicy decides the capacity of the pass that retries kernels left
// over by an exhausted pass. Grow returns the new capacity and whether it is
// larger than the current one. Capacity is never shrunk.
type GrowthPolicy interface {
	Grow(capacity uint32) (uint32, bool)
}

// Constant keeps capacity fixed.
type Constant struct{}

func (Constant) Grow(capacity uint32) (uint32, bool) {
	return capacity, false
}

// Increment adds Bytes per retry, up to Max (MaxCapacity when zero).
type Increment struct {
	Bytes uint32
	Max   uint32
}

func (g Increment) Grow(capacity uint32) (uint32, bool) {
	return clampGrow(capacity, uint64(capacity)+uint64(g.Bytes), g.Max)
}

// Doubling doubles capacity per retry, up to Max (MaxCapacity when zero).
type Doubling struct {
	Max uint32
}

func (g Doubling) Grow(capacity uint32) (uint32, bool) {
	return clampGrow(capacity, 2*uint64(capacity), g.Max)
}

func clampGrow(capacity uint32, next uint64, limit uint32) (uint32, bool) {
	if limit == 0 || limit > MaxCapacity {
		limit = MaxCapacity
	}
	if next > uint64(limit) {
		next = uint64(limit)
	}
	if next <= uint64(capacity) {
		return capacity, false
	}
	return uint32(next), true
}
