// Package heap implements the buffer set exchanged with native code for one pass.
//
// A pass owns five byte regions:
//
//	Region       Contents
//	──────────────────────────────────────────────────────────────
//	ToSpace      bump-allocated objects: [class i32][length u32][fields...]
//	Handles      u32 to-space offset per handle
//	HeapEnd      u32 cursor: first unused to-space byte
//	GcInfo       flags u32, last started kernel i32, handle count u32, kernel count u32
//	Exceptions   one 256-byte slot per thread: kernel i32, class i32, length u32, payload
//
// Handles 0..KernelCount-1 are the kernels of the pass in submission order.
// References inside the to-space are handles; NullRef encodes nil.
//
// The host allocates with Alloc while serializing. Native code allocates with
// Allocate, which raises FlagExhausted and pins the cursor at capacity when an
// object does not fit. The cursor never decreases during a pass.
//
// Buffers are created per pass and discarded after deserialization.
package heap
