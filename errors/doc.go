// Package errors provides structured error types for the kernel runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes context: field path, Go type name, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseSerialize, errors.KindUnsupported).
//		Path("Particle", "Mass").
//		GoType("complex128").
//		Detail("field kind has no fixed encoding").
//		Build()
//
// Or use convenience constructors for the runtime's taxonomy:
//
//	err := errors.EncodingOverflow("*main.Matrix", 4096, 512)
//	err := errors.CorruptHeap("handle %d absent from table", h)
//
// Kind sentinels (ErrEncodingOverflow, ErrCorruptHeap, ...) match in any phase:
//
//	if errors.Is(err, kerrors.ErrCorruptHeap) { ... }
//
// CompileError carries the failing toolchain command and its exit code.
// KernelException wraps the error reconstructed from a kernel's exception slot.
package errors
