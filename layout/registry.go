package layout

import (
	"reflect"
	"strings"
	"sync"

	"go.bytecodealliance.org/wit"

	kernelrt "github.com/wippyai/kernel-runtime"
	"github.com/wippyai/kernel-runtime/errors"
)

// ClassKind distinguishes how a class is laid out in the to-space.
type ClassKind uint8

const (
	ClassObject ClassKind = iota
	ClassArray
	ClassString
	ClassException
)

func (k ClassKind) String() string {
	switch k {
	case ClassObject:
		return "object"
	case ClassArray:
		return "array"
	case ClassString:
		return "string"
	case ClassException:
		return "exception"
	}
	return "unknown"
}

// FieldKind is the encoded kind of a field or array element.
type FieldKind uint8

const (
	KindBool FieldKind = iota
	KindS8
	KindU8
	KindS16
	KindU16
	KindS32
	KindU32
	KindS64
	KindU64
	KindF32
	KindF64
	KindRef    // pointer to a registered struct
	KindArray  // slice
	KindString // string
)

// IsReference reports whether values of this kind are stored as handles.
func (k FieldKind) IsReference() bool {
	return k == KindRef || k == KindArray || k == KindString
}

// Field is one encoded struct field.
type Field struct {
	Target *Class // referenced class for reference kinds
	Name   string
	Index  []int
	Offset uint32
	Size   uint32
	Kind   FieldKind
}

// Class is a registered type with a fixed to-space encoding.
type Class struct {
	GoType   reflect.Type
	Record   *wit.TypeDef
	Elem     *Field // element encoding for arrays and strings
	fieldIdx map[string]int
	Name     string
	Fields   []Field
	Size     uint32 // payload size of an object; element size of an array
	Align    uint32
	ID       int32
	Kind     ClassKind
	Kernel   bool
}

// Field returns the named field.
func (c *Class) Field(name string) (Field, bool) {
	i, ok := c.fieldIdx[name]
	if !ok {
		return Field{}, false
	}
	return c.Fields[i], true
}

// PayloadSize returns the payload bytes of an instance with n elements.
func (c *Class) PayloadSize(n uint32) uint64 {
	switch c.Kind {
	case ClassArray, ClassString:
		return uint64(c.Size) * uint64(n)
	}
	return uint64(c.Size)
}

// Registry assigns stable class ids to Go types.
type Registry struct {
	byType  map[reflect.Type]*Class
	byName  map[string]*Class
	calc    *Calculator
	classes []*Class
	mu      sync.RWMutex
}

// NewRegistry creates a registry holding the string and KernelError classes.
func NewRegistry() *Registry {
	r := &Registry{
		byType: make(map[reflect.Type]*Class),
		byName: make(map[string]*Class),
		calc:   NewCalculator(),
	}
	str := &Class{
		GoType: reflect.TypeOf(""),
		Name:   "string",
		Kind:   ClassString,
		Elem:   &Field{Kind: KindU8, Size: 1},
		Size:   1,
		Align:  1,
	}
	r.add(str)
	r.add(&Class{
		GoType: reflect.TypeOf(KernelError{}),
		Name:   "kernel-error",
		Kind:   ClassException,
		Align:  1,
	})
	return r
}

var kernelType = reflect.TypeOf((*kernelrt.Kernel)(nil)).Elem()

// Register registers the struct type of proto, which may be a struct value or
// a pointer to one, together with every struct and slice type its fields
// reference.
func (r *Registry) Register(proto any) (*Class, error) {
	if proto == nil {
		return nil, errors.InvalidInput(errors.PhaseRegister, "cannot register nil")
	}
	t := reflect.TypeOf(proto)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, errors.TypeMismatch(errors.PhaseRegister, nil, t.String(), "class must be a struct")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.classes)
	c, err := r.registerStruct(t, nil)
	if err != nil {
		r.rollback(n)
		return nil, err
	}
	return c, nil
}

// RegisterException registers an error type raised by native code. The type's
// exported fields are reconstructed from the slot payload.
func (r *Registry) RegisterException(proto error) (*Class, error) {
	if proto == nil {
		return nil, errors.InvalidInput(errors.PhaseRegister, "cannot register nil exception")
	}
	t := reflect.TypeOf(proto)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, errors.TypeMismatch(errors.PhaseRegister, nil, t.String(), "exception class must be a struct")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.byType[t]; ok {
		if c.Kind != ClassException {
			return nil, errors.TypeMismatch(errors.PhaseRegister, nil, t.String(), "already registered as "+c.Kind.String())
		}
		return c, nil
	}
	c := &Class{
		GoType: t,
		Name:   className(t),
		Kind:   ClassException,
		Align:  1,
	}
	if err := r.checkName(c); err != nil {
		return nil, err
	}
	r.add(c)
	return c, nil
}

// ArrayOf returns the class for slice type t, registering it when needed.
func (r *Registry) ArrayOf(t reflect.Type) (*Class, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.classes)
	c, err := r.registerArray(t, nil)
	if err != nil {
		r.rollback(n)
		return nil, err
	}
	return c, nil
}

// ByID returns the class with id.
func (r *Registry) ByID(id int32) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || int(id) >= len(r.classes) {
		return nil, false
	}
	return r.classes[id], true
}

// ByName returns the class named name.
func (r *Registry) ByName(name string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// ByType returns the class of Go type t. Pointer types resolve to their element.
func (r *Registry) ByType(t reflect.Type) (*Class, bool) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byType[t]
	return c, ok
}

// Classes returns all classes in id order.
func (r *Registry) Classes() []*Class {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Class(nil), r.classes...)
}

func (r *Registry) add(c *Class) {
	c.ID = int32(len(r.classes))
	r.classes = append(r.classes, c)
	r.byType[c.GoType] = c
	r.byName[c.Name] = c
}

func (r *Registry) checkName(c *Class) error {
	if other, ok := r.byName[c.Name]; ok && other.GoType != c.GoType {
		return errors.New(errors.PhaseRegister, errors.KindInvalidInput).
			GoType(c.GoType.String()).
			Detail("class name %q already used by %s", c.Name, other.GoType).
			Build()
	}
	return nil
}

func (r *Registry) registerStruct(t reflect.Type, path []string) (*Class, error) {
	if c, ok := r.byType[t]; ok {
		if c.Kind != ClassObject {
			return nil, errors.TypeMismatch(errors.PhaseRegister, path, t.String(), "already registered as "+c.Kind.String())
		}
		return c, nil
	}

	c := &Class{
		GoType:   t,
		Name:     className(t),
		Kind:     ClassObject,
		Kernel:   reflect.PointerTo(t).Implements(kernelType),
		fieldIdx: make(map[string]int),
	}
	if err := r.checkName(c); err != nil {
		return nil, err
	}
	// Added before fields so self-referencing types terminate.
	r.add(c)

	record := &wit.Record{}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() || sf.Tag.Get("kernel") == "-" {
			continue
		}
		fieldPath := append(append([]string(nil), path...), t.Name(), sf.Name)
		f, witType, err := r.field(sf, fieldPath)
		if err != nil {
			return nil, err
		}
		c.fieldIdx[f.Name] = len(c.Fields)
		c.Fields = append(c.Fields, f)
		record.Fields = append(record.Fields, wit.Field{Name: f.Name, Type: witType})
	}

	c.Record = &wit.TypeDef{Kind: record}
	info := r.calc.Calculate(c.Record)
	c.Size = info.Size
	c.Align = info.Align
	for i := range c.Fields {
		c.Fields[i].Offset = info.FieldOffs[c.Fields[i].Name]
	}
	return c, nil
}

func (r *Registry) registerArray(t reflect.Type, path []string) (*Class, error) {
	if t.Kind() != reflect.Slice {
		return nil, errors.TypeMismatch(errors.PhaseRegister, path, t.String(), "array class must be a slice")
	}
	if c, ok := r.byType[t]; ok {
		return c, nil
	}

	c := &Class{
		GoType: t,
		Name:   t.String(),
		Kind:   ClassArray,
	}
	r.add(c)

	elem, witType, err := r.encoding(t.Elem(), path)
	if err != nil {
		return nil, err
	}
	info := r.calc.Calculate(witType)
	elem.Size = info.Size
	c.Elem = &elem
	c.Size = info.Size
	c.Align = info.Align
	return c, nil
}

// rollback drops every class added after the first n.
func (r *Registry) rollback(n int) {
	for _, c := range r.classes[n:] {
		delete(r.byType, c.GoType)
		delete(r.byName, c.Name)
	}
	clear(r.classes[n:])
	r.classes = r.classes[:n]
}

func (r *Registry) field(sf reflect.StructField, path []string) (Field, wit.Type, error) {
	f, witType, err := r.encoding(sf.Type, path)
	if err != nil {
		return Field{}, nil, err
	}
	f.Name = sf.Name
	f.Index = sf.Index
	f.Size = r.calc.Calculate(witType).Size
	return f, witType, nil
}

// encoding maps a Go type to its field kind and WIT scalar.
func (r *Registry) encoding(t reflect.Type, path []string) (Field, wit.Type, error) {
	switch t.Kind() {
	case reflect.Bool:
		return Field{Kind: KindBool}, wit.Bool{}, nil
	case reflect.Int8:
		return Field{Kind: KindS8}, wit.S8{}, nil
	case reflect.Uint8:
		return Field{Kind: KindU8}, wit.U8{}, nil
	case reflect.Int16:
		return Field{Kind: KindS16}, wit.S16{}, nil
	case reflect.Uint16:
		return Field{Kind: KindU16}, wit.U16{}, nil
	case reflect.Int32:
		return Field{Kind: KindS32}, wit.S32{}, nil
	case reflect.Uint32:
		return Field{Kind: KindU32}, wit.U32{}, nil
	case reflect.Int64, reflect.Int:
		return Field{Kind: KindS64}, wit.S64{}, nil
	case reflect.Uint64, reflect.Uint:
		return Field{Kind: KindU64}, wit.U64{}, nil
	case reflect.Float32:
		return Field{Kind: KindF32}, wit.F32{}, nil
	case reflect.Float64:
		return Field{Kind: KindF64}, wit.F64{}, nil
	case reflect.String:
		return Field{Kind: KindString, Target: r.classes[0]}, wit.U32{}, nil
	case reflect.Ptr:
		if t.Elem().Kind() != reflect.Struct {
			return Field{}, nil, errors.Unsupported(errors.PhaseRegister, "pointer to "+t.Elem().Kind().String()+" at "+strings.Join(path, "."))
		}
		target, err := r.registerStruct(t.Elem(), path)
		if err != nil {
			return Field{}, nil, err
		}
		return Field{Kind: KindRef, Target: target}, wit.U32{}, nil
	case reflect.Slice:
		target, err := r.registerArray(t, path)
		if err != nil {
			return Field{}, nil, err
		}
		return Field{Kind: KindArray, Target: target}, wit.U32{}, nil
	}
	return Field{}, nil, errors.New(errors.PhaseRegister, errors.KindUnsupported).
		Path(path...).
		GoType(t.String()).
		Detail("%s has no fixed encoding", t.Kind()).
		Build()
}

// className returns the KernelClass name for kernels, otherwise the Go type name.
func className(t reflect.Type) string {
	if reflect.PointerTo(t).Implements(kernelType) {
		if k, ok := reflect.New(t).Interface().(kernelrt.Kernel); ok {
			if name := k.KernelClass(); name != "" {
				return name
			}
		}
	}
	return t.String()
}
