package transcoder

import (
	"cmp"
	stderrors "errors"
	"math"
	"reflect"
	"slices"
	"strconv"
	"unsafe"

	"go.uber.org/zap"

	kernelrt "github.com/wippyai/kernel-runtime"
	"github.com/wippyai/kernel-runtime/errors"
	"github.com/wippyai/kernel-runtime/heap"
	"github.com/wippyai/kernel-runtime/layout"
)

var errNotScalar = stderrors.New("kind is not a scalar")

// identity distinguishes object instances. Slices are identified by their
// backing array, length and type; strings by data pointer and length.
type identity struct {
	typ reflect.Type
	ptr unsafe.Pointer
	n   int
}

func identityOf(v reflect.Value) identity {
	switch v.Kind() {
	case reflect.String:
		s := v.String()
		return identity{typ: v.Type(), ptr: unsafe.Pointer(unsafe.StringData(s)), n: len(s)}
	case reflect.Slice:
		return identity{typ: v.Type(), ptr: v.UnsafePointer(), n: v.Len()}
	}
	return identity{typ: v.Type(), ptr: v.UnsafePointer()}
}

// span is the backing memory of a slice.
type span struct {
	start, end uintptr
}

// spans holds the disjoint backing ranges of the slices in a pass, ordered by
// start. Distinct slices of one pass must not share elements.
type spans []span

func (s *spans) add(v reflect.Value) error {
	n := uintptr(v.Len()) * v.Type().Elem().Size()
	if n == 0 {
		return nil
	}
	sp := span{start: v.Pointer(), end: v.Pointer() + n}
	i, _ := slices.BinarySearchFunc(*s, sp.start, func(x span, at uintptr) int {
		return cmp.Compare(x.start, at)
	})
	if i > 0 && (*s)[i-1].end > sp.start || i < len(*s) && (*s)[i].start < sp.end {
		return errors.New(errors.PhaseSerialize, errors.KindInvalidInput).
			GoType(v.Type().String()).
			Detail("slice of length %d shares elements with another slice in the pass", v.Len()).
			Build()
	}
	*s = slices.Insert(*s, i, sp)
	return nil
}

// isNull reports whether v encodes as NullRef.
func isNull(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr, reflect.Slice:
		return v.IsNil()
	case reflect.String:
		return v.Len() == 0
	}
	return false
}

type object struct {
	value  reflect.Value // pointer, slice or string
	class  *layout.Class
	owner  int
	length uint32
	size   uint32 // header plus payload, rounded to ObjectAlign
}

// Pass is one planned batch: the kernels that fit and every object they reach,
// numbered in handle order.
type Pass struct {
	index    map[identity]uint32
	Kernels  []kernelrt.Kernel
	objects  []object
	Capacity uint32
	Need     uint32 // to-space bytes consumed by the encoded graph
}

// Handles returns the number of handles assigned by the host.
func (p *Pass) Handles() int {
	return len(p.objects)
}

// Owner returns the index of the kernel owning handle h.
func (p *Pass) Owner(h uint32) (int, bool) {
	if int(h) >= len(p.objects) {
		return 0, false
	}
	return p.objects[h].owner, true
}

// MaxHandles returns the handle table size: host handles plus room for one
// native allocation per ObjectAlign bytes of free to-space.
func (p *Pass) MaxHandles() uint32 {
	free := p.Capacity - p.Need
	return uint32(len(p.objects)) + free/heap.ObjectAlign + 1
}

// NewBuffers allocates a buffer set sized for p.
func (p *Pass) NewBuffers(threads int) *heap.Buffers {
	return heap.New(p.Capacity, p.MaxHandles(), threads)
}

// Encoder packs kernel object graphs into to-space buffers.
type Encoder struct {
	reg *layout.Registry
}

func NewEncoder(reg *layout.Registry) *Encoder {
	return &Encoder{reg: reg}
}

// Plan traverses kernels breadth-first in order and returns the longest prefix
// whose combined graph fits in capacity. It fails with EncodingOverflow when
// the first kernel alone does not fit.
func (e *Encoder) Plan(kernels []kernelrt.Kernel, capacity uint32) (*Pass, error) {
	seen := make(map[identity]struct{})
	var views spans
	kernelAt := make(map[identity]int, len(kernels))
	var need uint64

	fit := len(kernels)
	for i, k := range kernels {
		v := reflect.ValueOf(k)
		if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
			return nil, errors.TypeMismatch(errors.PhaseSerialize, []string{"kernel[" + strconv.Itoa(i) + "]"},
				reflect.TypeOf(k).String(), "kernel must be a non-nil pointer to a struct")
		}
		id := identityOf(v)
		if j, dup := kernelAt[id]; dup {
			return nil, errors.InvalidInput(errors.PhaseSerialize, "kernel "+strconv.Itoa(i)+" is the same instance as kernel "+strconv.Itoa(j))
		}
		kernelAt[id] = i

		inc, err := e.closure(v, seen, &views)
		if err != nil {
			return nil, err
		}
		if need+inc > uint64(capacity) {
			if i == 0 {
				return nil, errors.EncodingOverflow(v.Type().String(), clampU32(inc), capacity)
			}
			fit = i
			break
		}
		need += inc
	}

	p := &Pass{
		Kernels:  kernels[:fit],
		Capacity: capacity,
		Need:     uint32(need),
	}
	if err := e.number(p); err != nil {
		return nil, err
	}
	return p, nil
}

// closure returns the encoded size of the objects reachable from root that
// are not yet in seen, adding them to seen and their slices to views.
func (e *Encoder) closure(root reflect.Value, seen map[identity]struct{}, views *spans) (uint64, error) {
	queue := getQueue()
	defer putQueue(queue)

	var total uint64
	visit := func(v reflect.Value) error {
		id := identityOf(v)
		if _, ok := seen[id]; ok {
			return nil
		}
		seen[id] = struct{}{}
		if v.Kind() == reflect.Slice {
			if err := views.add(v); err != nil {
				return err
			}
		}
		c, err := e.classOf(v)
		if err != nil {
			return err
		}
		_, size := sizeOf(v, c)
		total += size
		*queue = append(*queue, v)
		return nil
	}

	if err := visit(root); err != nil {
		return 0, err
	}
	for i := 0; i < len(*queue); i++ {
		v := (*queue)[i]
		if v.Kind() == reflect.String {
			continue
		}
		c, err := e.classOf(v)
		if err != nil {
			return 0, err
		}
		if err := eachRef(v, c, visit); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// number assigns handles: kernels first, then each kernel's newly reached
// objects in breadth-first order. An object belongs to the lowest-index
// kernel that reaches it.
func (e *Encoder) number(p *Pass) error {
	p.index = make(map[identity]uint32)
	p.objects = p.objects[:0]

	add := func(v reflect.Value, owner int) error {
		c, err := e.classOf(v)
		if err != nil {
			return err
		}
		length, size := sizeOf(v, c)
		p.index[identityOf(v)] = uint32(len(p.objects))
		p.objects = append(p.objects, object{
			value:  v,
			class:  c,
			owner:  owner,
			length: length,
			size:   uint32(size),
		})
		return nil
	}

	for i, k := range p.Kernels {
		if err := add(reflect.ValueOf(k), i); err != nil {
			return err
		}
	}
	for i := range p.Kernels {
		for at := []uint32{uint32(i)}; len(at) > 0; {
			h := at[0]
			at = at[1:]
			obj := p.objects[h]
			if obj.class.Kind == layout.ClassString {
				continue
			}
			err := eachRef(obj.value, obj.class, func(v reflect.Value) error {
				if _, ok := p.index[identityOf(v)]; ok {
					return nil
				}
				at = append(at, uint32(len(p.objects)))
				return add(v, i)
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Encode writes p into bufs: objects in handle order, the handle table, the
// class reference table and a fresh gc-info record. The source graph is only
// read.
func (e *Encoder) Encode(p *Pass, bufs *heap.Buffers) error {
	if uint32(len(p.objects)) > bufs.MaxHandles() {
		return errors.New(errors.PhaseSerialize, errors.KindInvalidInput).
			Detail("handle table holds %d handles, pass needs %d", bufs.MaxHandles(), len(p.objects)).
			Build()
	}
	mem := bufs.Space()

	for h, obj := range p.objects {
		off, ok := bufs.Alloc(obj.size, heap.ObjectAlign)
		if !ok {
			return errors.EncodingOverflow(obj.class.GoType.String(), obj.size, bufs.Remaining())
		}
		bufs.WriteHeader(off, bufs.ClassNumber(obj.class.ID), obj.length)
		bufs.SetHandle(uint32(h), off)
		if err := e.writePayload(p, mem, off+heap.HeaderSize, obj); err != nil {
			return err
		}
	}

	bufs.SetInfo(heap.GcInfo{
		LastStarted: heap.NoKernel,
		HandleCount: uint32(len(p.objects)),
		KernelCount: uint32(len(p.Kernels)),
	})
	bufs.ClearSlots()

	Logger().Debug("pass encoded",
		zap.Int("kernels", len(p.Kernels)),
		zap.Int("handles", len(p.objects)),
		zap.Uint32("bytes", bufs.End()),
		zap.Uint32("capacity", bufs.Capacity()))
	return nil
}

func (e *Encoder) writePayload(p *Pass, mem heap.Region, at uint32, obj object) error {
	v, c := obj.value, obj.class
	switch c.Kind {
	case layout.ClassString:
		return mem.Write(at, []byte(v.String()))
	case layout.ClassArray:
		for i := 0; i < v.Len(); i++ {
			if err := e.writeValue(p, mem, at+uint32(i)*c.Size, *c.Elem, v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	}
	s := v.Elem()
	for _, f := range c.Fields {
		if err := e.writeValue(p, mem, at+f.Offset, f, s.FieldByIndex(f.Index)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeValue(p *Pass, mem heap.Region, addr uint32, f layout.Field, v reflect.Value) error {
	if !f.Kind.IsReference() {
		return putScalar(mem, addr, f.Kind, v)
	}
	if isNull(v) {
		return mem.WriteU32(addr, heap.NullRef)
	}
	h, ok := p.index[identityOf(v)]
	if !ok {
		return errors.CorruptHeap("%s reference at %d was not traversed", v.Type(), addr)
	}
	return mem.WriteU32(addr, h)
}

func (e *Encoder) classOf(v reflect.Value) (*layout.Class, error) {
	switch v.Kind() {
	case reflect.String:
		c, _ := e.reg.ByID(layout.StringClassID)
		return c, nil
	case reflect.Slice:
		if c, ok := e.reg.ByType(v.Type()); ok {
			return c, nil
		}
		return e.reg.ArrayOf(v.Type())
	case reflect.Ptr:
		if c, ok := e.reg.ByType(v.Type()); ok {
			if c.Kind != layout.ClassObject {
				return nil, errors.TypeMismatch(errors.PhaseSerialize, nil, v.Type().String(), "registered as "+c.Kind.String())
			}
			return c, nil
		}
		return e.reg.Register(v.Interface())
	}
	return nil, errors.Unsupported(errors.PhaseSerialize, v.Type().String()+" is not an object")
}

// eachRef calls fn for every non-null reference held by v.
func eachRef(v reflect.Value, c *layout.Class, fn func(reflect.Value) error) error {
	switch c.Kind {
	case layout.ClassArray:
		if !c.Elem.Kind.IsReference() {
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if ev := v.Index(i); !isNull(ev) {
				if err := fn(ev); err != nil {
					return err
				}
			}
		}
	case layout.ClassObject:
		s := v.Elem()
		for _, f := range c.Fields {
			if !f.Kind.IsReference() {
				continue
			}
			if fv := s.FieldByIndex(f.Index); !isNull(fv) {
				if err := fn(fv); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// sizeOf returns the header length and the aligned encoded size of v.
func sizeOf(v reflect.Value, c *layout.Class) (uint32, uint64) {
	var length uint32
	switch c.Kind {
	case layout.ClassArray, layout.ClassString:
		length = uint32(v.Len())
	default:
		length = c.Size
	}
	payload := c.PayloadSize(length)
	size := uint64(heap.HeaderSize) + payload
	return length, (size + uint64(heap.ObjectAlign) - 1) &^ uint64(heap.ObjectAlign-1)
}

func clampU32(v uint64) uint32 {
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}
