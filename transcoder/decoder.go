package transcoder

import (
	"reflect"

	"go.uber.org/zap"

	kernelrt "github.com/wippyai/kernel-runtime"
	"github.com/wippyai/kernel-runtime/errors"
	"github.com/wippyai/kernel-runtime/heap"
	"github.com/wippyai/kernel-runtime/layout"
)

// Result is the outcome of one pass as read back from its buffers.
type Result struct {
	// Exceptions maps kernel index to the reconstructed *errors.KernelException.
	Exceptions map[int]error

	// Completed holds the committed kernels in submission order.
	Completed []kernelrt.Kernel

	// CompletedCount is the number of kernels the native side reports as
	// finished: all of them without exhaustion, otherwise those strictly
	// before the last started kernel.
	CompletedCount int

	// Committed is the prefix whose state was written back: CompletedCount
	// capped at the first raising kernel.
	Committed int

	// Allocated counts objects created natively and materialized on the host.
	Allocated int

	Exhausted bool
}

// FirstException returns the exception of the lowest raising kernel.
func (r *Result) FirstException() (int, error) {
	first := -1
	for k := range r.Exceptions {
		if first < 0 || k < first {
			first = k
		}
	}
	if first < 0 {
		return -1, nil
	}
	return first, r.Exceptions[first]
}

// Decoder reads pass buffers back into the host object graph.
type Decoder struct {
	reg *layout.Registry
}

func NewDecoder(reg *layout.Registry) *Decoder {
	return &Decoder{reg: reg}
}

type assign struct {
	dst reflect.Value
	src reflect.Value
}

type decodeState struct {
	d       *Decoder
	p       *Pass
	bufs    *heap.Buffers
	mem     heap.Region
	created map[uint32]reflect.Value
	pending []assign
}

// Decode validates bufs against p, collects exceptions, and writes back every
// object owned by a committed kernel. Nothing is written unless the whole
// committed graph decodes; any inconsistency is CorruptHeap.
func (d *Decoder) Decode(p *Pass, bufs *heap.Buffers) (*Result, error) {
	info := bufs.Info()
	n := len(p.Kernels)

	switch {
	case int(info.KernelCount) != n:
		return nil, errors.CorruptHeap("gc info reports %d kernels, pass has %d", info.KernelCount, n)
	case info.HandleCount < uint32(len(p.objects)):
		return nil, errors.CorruptHeap("handle count %d below host handle count %d", info.HandleCount, len(p.objects))
	case info.HandleCount > bufs.MaxHandles():
		return nil, errors.CorruptHeap("handle count %d exceeds table size %d", info.HandleCount, bufs.MaxHandles())
	case bufs.End() > bufs.Capacity():
		return nil, errors.CorruptHeap("heap end %d beyond capacity %d", bufs.End(), bufs.Capacity())
	case bufs.End() < p.Need:
		return nil, errors.CorruptHeap("heap end %d moved below encoded size %d", bufs.End(), p.Need)
	}

	res := &Result{
		Exhausted:      info.Exhausted(),
		CompletedCount: n,
	}
	if res.Exhausted {
		res.CompletedCount = min(max(int(info.LastStarted), 0), n)
	}

	exceptions, err := d.exceptions(bufs, n)
	if err != nil {
		return nil, err
	}
	res.Exceptions = exceptions
	res.Committed = res.CompletedCount
	if first, _ := res.FirstException(); first >= 0 && first < res.Committed {
		res.Committed = first
	}

	st := &decodeState{
		d:       d,
		p:       p,
		bufs:    bufs,
		mem:     bufs.Space(),
		created: make(map[uint32]reflect.Value),
	}
	for h := range p.objects {
		if p.objects[h].owner >= res.Committed {
			continue
		}
		if err := st.readBack(uint32(h)); err != nil {
			return nil, err
		}
	}
	for _, a := range st.pending {
		a.dst.Set(a.src)
	}

	res.Allocated = len(st.created)
	res.Completed = p.Kernels[:res.Committed]

	Logger().Debug("pass decoded",
		zap.Int("kernels", n),
		zap.Int("completed", res.CompletedCount),
		zap.Int("committed", res.Committed),
		zap.Int("exceptions", len(res.Exceptions)),
		zap.Int("allocated", res.Allocated),
		zap.Bool("exhausted", res.Exhausted))
	return res, nil
}

func (d *Decoder) exceptions(bufs *heap.Buffers, n int) (map[int]error, error) {
	var out map[int]error
	for t := 0; t < bufs.Threads(); t++ {
		slot, err := bufs.Slot(t)
		if err != nil {
			return nil, errors.CorruptHeap("%v", err)
		}
		if slot.Empty() {
			continue
		}
		k := int(slot.Kernel)
		if k < 0 || k >= n {
			return nil, errors.CorruptHeap("thread %d exception names kernel %d of %d", t, k, n)
		}
		if _, dup := out[k]; dup {
			continue
		}
		id, ok := bufs.ClassRef(slot.Class)
		if !ok {
			return nil, errors.CorruptHeap("thread %d exception class number %d not in class table", t, slot.Class)
		}
		c, ok := d.reg.ByID(id)
		if !ok {
			return nil, errors.CorruptHeap("thread %d exception class id %d not registered", t, id)
		}
		raised, err := UnmarshalException(c, slot.Payload)
		if err != nil {
			return nil, errors.New(errors.PhaseDeserialize, errors.KindCorruptHeap).
				GoType(c.GoType.String()).
				Cause(err).
				Detail("thread %d exception payload", t).
				Build()
		}
		if out == nil {
			out = make(map[int]error)
		}
		out[k] = &errors.KernelException{
			Index:   k,
			Class:   c.Name,
			Message: raised.Error(),
			Cause:   raised,
		}
	}
	return out, nil
}

// header resolves handle h and checks that its class is want.
func (st *decodeState) header(h uint32, want *layout.Class) (heap.Object, error) {
	obj, err := st.bufs.Object(h)
	if err != nil {
		return heap.Object{}, errors.CorruptHeap("%v", err)
	}
	id, ok := st.bufs.ClassRef(obj.Class)
	if !ok {
		return heap.Object{}, errors.CorruptHeap("handle %d class number %d not in class table", h, obj.Class)
	}
	if want != nil && id != want.ID {
		return heap.Object{}, errors.CorruptHeap("handle %d has class %d, expected %s", h, id, want.Name)
	}
	c, ok := st.d.reg.ByID(id)
	if !ok {
		return heap.Object{}, errors.CorruptHeap("handle %d class id %d not registered", h, id)
	}
	end := uint64(obj.Payload()) + c.PayloadSize(obj.Length)
	if end > uint64(st.bufs.End()) {
		return heap.Object{}, errors.CorruptHeap("handle %d payload ends at %d beyond heap end %d", h, end, st.bufs.End())
	}
	return obj, nil
}

// readBack queues the decoded state of host handle h onto its Go object.
func (st *decodeState) readBack(h uint32) error {
	o := st.p.objects[h]
	obj, err := st.header(h, o.class)
	if err != nil {
		return err
	}
	c := o.class
	switch c.Kind {
	case layout.ClassString:
		return nil
	case layout.ClassArray:
		if int(obj.Length) != o.value.Len() {
			return errors.CorruptHeap("handle %d array length %d, host has %d", h, obj.Length, o.value.Len())
		}
		for i := 0; i < o.value.Len(); i++ {
			dst := o.value.Index(i)
			src, err := st.value(obj.Payload()+uint32(i)*c.Size, *c.Elem, dst.Type())
			if err != nil {
				return err
			}
			st.pending = append(st.pending, assign{dst: dst, src: src})
		}
		return nil
	}

	s := o.value.Elem()
	for _, f := range c.Fields {
		dst := s.FieldByIndex(f.Index)
		src, err := st.value(obj.Payload()+f.Offset, f, dst.Type())
		if err != nil {
			return err
		}
		st.pending = append(st.pending, assign{dst: dst, src: src})
	}
	return nil
}

func (st *decodeState) value(addr uint32, f layout.Field, t reflect.Type) (reflect.Value, error) {
	if !f.Kind.IsReference() {
		v, err := getScalar(st.mem, addr, f.Kind, t)
		if err != nil {
			return v, errors.CorruptHeap("field %s at %d: %v", f.Name, addr, err)
		}
		return v, nil
	}
	h, err := st.mem.ReadU32(addr)
	if err != nil {
		return reflect.Value{}, errors.CorruptHeap("reference %s at %d: %v", f.Name, addr, err)
	}
	if h == heap.NullRef {
		return reflect.Zero(t), nil
	}
	return st.resolve(h, f.Target, t)
}

// resolve maps a handle to a Go value of type t: the original object for host
// handles, a materialized one for handles allocated natively.
func (st *decodeState) resolve(h uint32, target *layout.Class, t reflect.Type) (reflect.Value, error) {
	if int(h) < len(st.p.objects) {
		o := st.p.objects[h]
		if o.class != target {
			return reflect.Value{}, errors.CorruptHeap("handle %d is %s, reference expects %s", h, o.class.Name, target.Name)
		}
		return convert(o.value, t), nil
	}
	if h >= st.bufs.Info().HandleCount {
		return reflect.Value{}, errors.CorruptHeap("dangling handle %d (count %d)", h, st.bufs.Info().HandleCount)
	}
	if v, ok := st.created[h]; ok {
		return convert(v, t), nil
	}

	obj, err := st.header(h, target)
	if err != nil {
		return reflect.Value{}, err
	}
	switch target.Kind {
	case layout.ClassString:
		raw, err := st.mem.Read(obj.Payload(), obj.Length)
		if err != nil {
			return reflect.Value{}, errors.CorruptHeap("handle %d: %v", h, err)
		}
		v := reflect.ValueOf(string(raw))
		st.created[h] = v
		return convert(v, t), nil

	case layout.ClassArray:
		v := reflect.MakeSlice(target.GoType, int(obj.Length), int(obj.Length))
		st.created[h] = v
		for i := 0; i < int(obj.Length); i++ {
			dst := v.Index(i)
			src, err := st.value(obj.Payload()+uint32(i)*target.Size, *target.Elem, dst.Type())
			if err != nil {
				return reflect.Value{}, err
			}
			dst.Set(src)
		}
		return convert(v, t), nil
	}

	ptr := reflect.New(target.GoType)
	st.created[h] = ptr
	s := ptr.Elem()
	for _, f := range target.Fields {
		dst := s.FieldByIndex(f.Index)
		src, err := st.value(obj.Payload()+f.Offset, f, dst.Type())
		if err != nil {
			return reflect.Value{}, err
		}
		dst.Set(src)
	}
	return ptr, nil
}

func convert(v reflect.Value, t reflect.Type) reflect.Value {
	if v.Type() == t || !v.Type().ConvertibleTo(t) {
		return v
	}
	return v.Convert(t)
}
