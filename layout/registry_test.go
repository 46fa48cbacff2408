package layout

import (
	"errors"
	"reflect"
	"testing"

	kerrors "github.com/wippyai/kernel-runtime/errors"
)

type vec struct {
	Data  []float64
	Label string
}

type node struct {
	Next  *node
	Value int32
}

type saxpy struct {
	X, Y   *vec
	hidden int
	Skip   int `kernel:"-"`
	A      float64
	Count  int
	Ok     bool
}

func (*saxpy) KernelClass() string { return "saxpy" }

type badExc struct{ Code int }

func (badExc) Error() string { return "bad" }

func TestRegistry_StringClass(t *testing.T) {
	r := NewRegistry()
	c, ok := r.ByID(0)
	if !ok || c.Kind != ClassString || c.Name != "string" {
		t.Fatalf("class 0 = %+v", c)
	}
	if got, ok := r.ByType(reflect.TypeOf("")); !ok || got != c {
		t.Error("string class not found by type")
	}
}

func TestRegistry_RegisterKernel(t *testing.T) {
	r := NewRegistry()
	c, err := r.Register(&saxpy{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if c.Name != "saxpy" || !c.Kernel || c.Kind != ClassObject {
		t.Errorf("class = %s kernel=%v kind=%s", c.Name, c.Kernel, c.Kind)
	}
	if len(c.Fields) != 5 {
		t.Fatalf("fields = %d, want 5", len(c.Fields))
	}
	if _, ok := c.Field("hidden"); ok {
		t.Error("unexported field encoded")
	}
	if _, ok := c.Field("Skip"); ok {
		t.Error("tagged field encoded")
	}

	tests := []struct {
		name   string
		kind   FieldKind
		offset uint32
		size   uint32
	}{
		{"X", KindRef, 0, 4},
		{"Y", KindRef, 4, 4},
		{"A", KindF64, 8, 8},
		{"Count", KindS64, 16, 8},
		{"Ok", KindBool, 24, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := c.Field(tt.name)
			if !ok {
				t.Fatal("missing field")
			}
			if f.Kind != tt.kind || f.Offset != tt.offset || f.Size != tt.size {
				t.Errorf("field = kind %d off %d size %d", f.Kind, f.Offset, f.Size)
			}
		})
	}
	if c.Size != 32 || c.Align != 8 {
		t.Errorf("size/align = %d/%d, want 32/8", c.Size, c.Align)
	}

	x, _ := c.Field("X")
	if x.Target == nil || x.Target.GoType != reflect.TypeOf(vec{}) {
		t.Fatal("pointer target not registered")
	}
	data, ok := x.Target.Field("Data")
	if !ok || data.Kind != KindArray || data.Target.Kind != ClassArray {
		t.Fatal("slice field not registered as array")
	}
	if data.Target.Size != 8 || data.Target.Elem.Kind != KindF64 {
		t.Errorf("array elem = %+v", data.Target.Elem)
	}
	if data.Target.PayloadSize(3) != 24 {
		t.Errorf("PayloadSize(3) = %d", data.Target.PayloadSize(3))
	}
}

func TestRegistry_SelfReference(t *testing.T) {
	r := NewRegistry()
	c, err := r.Register(node{})
	if err != nil {
		t.Fatal(err)
	}
	next, _ := c.Field("Next")
	if next.Target != c {
		t.Error("self reference should resolve to the same class")
	}
}

func TestRegistry_Idempotent(t *testing.T) {
	r := NewRegistry()
	a, _ := r.Register(&saxpy{})
	n := len(r.Classes())
	b, err := r.Register(saxpy{})
	if err != nil || a != b {
		t.Fatal("re-registration should return the same class")
	}
	if len(r.Classes()) != n {
		t.Error("re-registration added classes")
	}
	if got, ok := r.ByName("saxpy"); !ok || got != a {
		t.Error("ByName failed")
	}
	if got, ok := r.ByID(a.ID); !ok || got != a {
		t.Error("ByID failed")
	}
}

func TestRegistry_Errors(t *testing.T) {
	type withMap struct{ M map[string]int }
	type withIntPtr struct{ P *int }

	tests := []struct {
		name  string
		proto any
		kind  kerrors.Kind
	}{
		{"nil", nil, kerrors.KindInvalidInput},
		{"not struct", 42, kerrors.KindTypeMismatch},
		{"map field", withMap{}, kerrors.KindUnsupported},
		{"scalar pointer", withIntPtr{}, kerrors.KindUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			_, err := r.Register(tt.proto)
			var e *kerrors.Error
			if !errors.As(err, &e) {
				t.Fatalf("err = %v, want *errors.Error", err)
			}
			if e.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", e.Kind, tt.kind)
			}
			if len(r.Classes()) != 2 {
				t.Errorf("failed registration left %d classes", len(r.Classes()))
			}
		})
	}
}

func TestRegistry_KernelError(t *testing.T) {
	r := NewRegistry()
	c, ok := r.ByID(KernelErrorClassID)
	if !ok || c.Kind != ClassException || c.GoType != reflect.TypeOf(KernelError{}) {
		t.Fatalf("class 1 = %+v", c)
	}
	if again, err := r.RegisterException(&KernelError{}); err != nil || again != c {
		t.Error("KernelError should already be registered")
	}
}

func TestRegistry_Exception(t *testing.T) {
	r := NewRegistry()
	c, err := r.RegisterException(badExc{})
	if err != nil {
		t.Fatal(err)
	}
	if c.Kind != ClassException {
		t.Errorf("kind = %s", c.Kind)
	}
	if again, _ := r.RegisterException(&badExc{}); again != c {
		t.Error("pointer and value exception should share a class")
	}
	if _, err := r.Register(badExc{}); err == nil {
		t.Error("registering an exception class as an object should fail")
	}
}
