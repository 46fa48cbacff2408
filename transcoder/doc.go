// Package transcoder converts kernel object graphs to and from the to-space
// of a heap buffer set.
//
// # Encoding
//
// Plan walks the kernels of a batch breadth-first in submission order and
// keeps the longest prefix whose combined graph fits the pass capacity:
//
//	kernels ──► Plan ──► Pass{Kernels[:fit], objects, handles}
//	                        │
//	                        ▼
//	                     Encode ──► heap.Buffers
//
// Handles 0..n-1 are the kernels. The remaining handles follow kernel by
// kernel, each kernel contributing the objects it reaches first. That kernel
// owns them: their state is written back only when it commits.
//
// Objects are structs reached through pointers, slices (array objects) and
// non-empty strings. Identity is pointer identity, so shared and cyclic
// graphs encode each instance once.
//
// # Decoding
//
// Decode reads gc-info and the exception slots, derives how many kernels
// completed, and writes back every object owned by a committed kernel.
// Handles at or above the host count were allocated natively and are
// materialized as new Go values when a committed object references them.
// All writes are staged and applied only after the committed graph decoded
// without error.
//
// # Exceptions
//
// Exception slot payloads are canonical CBOR of the exception type's exported
// fields; see MarshalException and MessagePayload.
package transcoder
