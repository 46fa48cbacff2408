// Package layout assigns classes to Go types and computes their fixed
// to-space encoding.
//
// Every registered struct is described as a WIT record whose fields are the
// struct's exported fields in declaration order. References (pointers to
// registered structs, slices, strings) are encoded as u32 handles. Integer
// kinds without a fixed width (int, uint) are widened to 64 bits.
//
// Arrays and strings are variable-length classes: the object header carries
// the element count and the payload is Size*count bytes.
//
// # Class ids
//
// Ids are dense and assigned in registration order. Id 0 is always the string
// class and id 1 the KernelError exception class. Ids are stable for the lifetime of a Registry; the per-pass class
// numbers written into object headers are mapped back to ids through the
// pass's class reference table.
package layout
