package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in a job the error occurred
type Phase string

const (
	PhaseSerialize   Phase = "serialize"   // object graph to to-space
	PhaseExecute     Phase = "execute"     // native call
	PhaseDeserialize Phase = "deserialize" // to-space back to object graph
	PhaseCompile     Phase = "compile"     // job translation unit
	PhaseLoad        Phase = "load"        // support module and job module loading
	PhaseDrive       Phase = "drive"       // job driver loop
	PhaseConfig      Phase = "config"      // configuration loading
	PhaseCodegen     Phase = "codegen"     // wasm generation
	PhaseRegister    Phase = "register"    // class registration
)

// Kind categorizes the error
type Kind string

const (
	KindEncodingOverflow  Kind = "encoding_overflow"
	KindBridgeUnavailable Kind = "bridge_unavailable"
	KindCompileFailed     Kind = "compile_failed"
	KindNativeFault       Kind = "native_fault"
	KindKernelException   Kind = "kernel_exception"
	KindCorruptHeap       Kind = "corrupt_heap"
	KindHeapExhausted     Kind = "heap_exhausted"
	KindInvalidInput      Kind = "invalid_input"
	KindInvalidState      Kind = "invalid_state"
	KindUnsupported       Kind = "unsupported"
	KindNotFound          Kind = "not_found"
	KindTypeMismatch      Kind = "type_mismatch"
	KindOutOfBounds       Kind = "out_of_bounds"
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	GoType string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" {
		b.WriteString(": Go type ")
		b.WriteString(e.GoType)
	}

	if e.Detail != "" {
		if e.GoType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches any phase.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase != "" && e.Phase != t.Phase {
			return false
		}
		return e.Kind == t.Kind
	}
	return false
}

// Sentinel targets for errors.Is. They match by Kind in any phase.
var (
	ErrEncodingOverflow  = &Error{Kind: KindEncodingOverflow}
	ErrBridgeUnavailable = &Error{Kind: KindBridgeUnavailable}
	ErrCompileFailed     = &Error{Kind: KindCompileFailed}
	ErrNativeFault       = &Error{Kind: KindNativeFault}
	ErrKernelException   = &Error{Kind: KindKernelException}
	ErrCorruptHeap       = &Error{Kind: KindCorruptHeap}
	ErrHeapExhausted     = &Error{Kind: KindHeapExhausted}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrUnsupported       = &Error{Kind: KindUnsupported}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrTypeMismatch      = &Error{Kind: KindTypeMismatch}
)

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// EncodingOverflow reports an object whose fixed encoding cannot fit in the
// remaining pass capacity.
func EncodingOverflow(goType string, need, remaining uint32) *Error {
	return &Error{
		Phase:  PhaseSerialize,
		Kind:   KindEncodingOverflow,
		GoType: goType,
		Detail: fmt.Sprintf("encoding needs %d bytes, %d remaining", need, remaining),
		Value:  need,
	}
}

// BridgeUnavailable reports a call against a broken bridge.
func BridgeUnavailable(cause error) *Error {
	return &Error{
		Phase:  PhaseExecute,
		Kind:   KindBridgeUnavailable,
		Detail: "native bridge is broken",
		Cause:  cause,
	}
}

// NativeFault reports a failing exit status with no exception slot populated.
func NativeFault(status int32, cause error) *Error {
	return &Error{
		Phase:  PhaseExecute,
		Kind:   KindNativeFault,
		Detail: fmt.Sprintf("native call returned status %d with no exception recorded", status),
		Value:  status,
		Cause:  cause,
	}
}

// CorruptHeap reports a handle-table or region inconsistency.
func CorruptHeap(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseDeserialize,
		Kind:   KindCorruptHeap,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// HeapExhausted reports a pass that could not make progress.
func HeapExhausted(capacity uint32) *Error {
	return &Error{
		Phase:  PhaseDrive,
		Kind:   KindHeapExhausted,
		Detail: fmt.Sprintf("no kernel completed at capacity %d and the growth policy cannot grow", capacity),
		Value:  capacity,
	}
}

// InvalidState reports an illegal state machine transition.
func InvalidState(phase Phase, from, to string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Detail: fmt.Sprintf("illegal transition %s -> %s", from, to),
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindCorruptHeap,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		GoType: goType,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindCompileFailed,
		Detail: detail,
		Cause:  cause,
	}
}

// CompileError is returned by a native code provider when a toolchain command fails.
type CompileError struct {
	Command  []string
	Output   string
	ExitCode int
}

func (e *CompileError) Error() string {
	var b strings.Builder
	b.WriteString("[compile] compile_failed: ")
	b.WriteString(strings.Join(e.Command, " "))
	b.WriteString(fmt.Sprintf(" exited with status %d", e.ExitCode))
	if out := strings.TrimSpace(e.Output); out != "" {
		b.WriteString(":\n")
		b.WriteString(out)
	}
	return b.String()
}

// Is reports whether target is a compile failure.
func (e *CompileError) Is(target error) bool {
	switch t := target.(type) {
	case *CompileError:
		return true
	case *Error:
		return t.Kind == KindCompileFailed
	}
	return false
}

// KernelException is a kernel-raised error captured through an exception slot.
type KernelException struct {
	Cause   error
	Class   string
	Message string
	Index   int
}

func (e *KernelException) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[execute] kernel_exception: kernel %d raised %s", e.Index, e.Class))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Unwrap returns the reconstructed kernel error
func (e *KernelException) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a kernel exception.
func (e *KernelException) Is(target error) bool {
	switch t := target.(type) {
	case *KernelException:
		return true
	case *Error:
		return t.Kind == KindKernelException
	}
	return false
}
