package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseSerialize,
				Kind:   KindUnsupported,
				Path:   []string{"Particle", "Spin"},
				GoType: "complex64",
				Detail: "no fixed encoding",
			},
			contains: []string{"[serialize]", "unsupported", "Particle.Spin", "complex64", "no fixed encoding"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDeserialize,
				Kind:  KindCorruptHeap,
			},
			contains: []string{"[deserialize]", "corrupt_heap"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseExecute,
				Kind:   KindNativeFault,
				Detail: "trap",
				Cause:  errors.New("unreachable executed"),
			},
			contains: []string{"[execute]", "native_fault", "trap", "caused by", "unreachable executed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseLoad,
		Kind:  KindCompileFailed,
		Cause: cause,
	}

	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause in the chain")
	}
}

func TestError_Is(t *testing.T) {
	err := CorruptHeap("handle %d absent", 7)

	if !errors.Is(err, ErrCorruptHeap) {
		t.Error("sentinel without phase should match any phase")
	}
	if !err.Is(&Error{Phase: PhaseDeserialize, Kind: KindCorruptHeap}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseSerialize, Kind: KindCorruptHeap}) {
		t.Error("Is should not match different phase")
	}
	if errors.Is(err, ErrEncodingOverflow) {
		t.Error("Is should not match different kind")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseRegister, KindTypeMismatch).
		Path("Vec", "X").
		GoType("chan int").
		Value(42).
		Cause(cause).
		Detail("expected %s, got %s", "scalar", "chan").
		Build()

	if err.Phase != PhaseRegister {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseRegister)
	}
	if err.Kind != KindTypeMismatch {
		t.Errorf("Kind = %v, want %v", err.Kind, KindTypeMismatch)
	}
	if len(err.Path) != 2 || err.Path[1] != "X" {
		t.Errorf("Path = %v", err.Path)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if err.Detail != "expected scalar, got chan" {
		t.Errorf("Detail = %q", err.Detail)
	}
	if err.Cause != cause {
		t.Error("Cause not set")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		err   *Error
		name  string
		kind  Kind
		phase Phase
	}{
		{EncodingOverflow("*main.Big", 100, 10), "EncodingOverflow", KindEncodingOverflow, PhaseSerialize},
		{BridgeUnavailable(errors.New("x")), "BridgeUnavailable", KindBridgeUnavailable, PhaseExecute},
		{NativeFault(3, nil), "NativeFault", KindNativeFault, PhaseExecute},
		{CorruptHeap("bad"), "CorruptHeap", KindCorruptHeap, PhaseDeserialize},
		{HeapExhausted(64), "HeapExhausted", KindHeapExhausted, PhaseDrive},
		{InvalidState(PhaseExecute, "Broken", "Compiling"), "InvalidState", KindInvalidState, PhaseExecute},
		{OutOfBounds(PhaseDeserialize, nil, 9, 4), "OutOfBounds", KindCorruptHeap, PhaseDeserialize},
		{NotFound(PhaseRegister, "class", "Vec"), "NotFound", KindNotFound, PhaseRegister},
		{InvalidInput(PhaseConfig, "bad"), "InvalidInput", KindInvalidInput, PhaseConfig},
		{Load("support", nil), "Load", KindCompileFailed, PhaseLoad},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if tt.err.Phase != tt.phase {
				t.Errorf("Phase = %v, want %v", tt.err.Phase, tt.phase)
			}
			if tt.err.Error() == "" {
				t.Error("empty message")
			}
		})
	}
}

func TestCompileError(t *testing.T) {
	err := &CompileError{
		Command:  []string{"wat2wasm", "generated.wat", "-o", "generated.wasm"},
		ExitCode: 1,
		Output:   "generated.wat:3:5: error: unexpected token\n",
	}

	msg := err.Error()
	for _, s := range []string{"wat2wasm generated.wat", "status 1", "unexpected token"} {
		if !strings.Contains(msg, s) {
			t.Errorf("message %q missing %q", msg, s)
		}
	}
	if !errors.Is(err, ErrCompileFailed) {
		t.Error("CompileError should match ErrCompileFailed")
	}

	var ce *CompileError
	wrapped := Load("compile job module", err)
	if !errors.As(wrapped, &ce) {
		t.Fatal("errors.As should find CompileError through Load")
	}
	if ce.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", ce.ExitCode)
	}
}

func TestKernelException(t *testing.T) {
	cause := errors.New("divide by zero")
	err := &KernelException{Index: 2, Class: "ArithmeticError", Message: "divide by zero", Cause: cause}

	if !strings.Contains(err.Error(), "kernel 2 raised ArithmeticError") {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, ErrKernelException) {
		t.Error("should match ErrKernelException")
	}
	if !errors.Is(err, cause) {
		t.Error("should unwrap to cause")
	}
}
