package transcoder

import (
	"math"
	"reflect"

	kernelrt "github.com/wippyai/kernel-runtime"
	"github.com/wippyai/kernel-runtime/layout"
)

// putScalar writes the non-reference value v of kind k at addr.
func putScalar(mem kernelrt.Memory, addr uint32, k layout.FieldKind, v reflect.Value) error {
	switch k {
	case layout.KindBool:
		var b uint8
		if v.Bool() {
			b = 1
		}
		return mem.WriteU8(addr, b)
	case layout.KindS8:
		return mem.WriteU8(addr, uint8(v.Int()))
	case layout.KindU8:
		return mem.WriteU8(addr, uint8(v.Uint()))
	case layout.KindS16:
		return mem.WriteU16(addr, uint16(v.Int()))
	case layout.KindU16:
		return mem.WriteU16(addr, uint16(v.Uint()))
	case layout.KindS32:
		return mem.WriteU32(addr, uint32(v.Int()))
	case layout.KindU32:
		return mem.WriteU32(addr, uint32(v.Uint()))
	case layout.KindS64:
		return mem.WriteU64(addr, uint64(v.Int()))
	case layout.KindU64:
		return mem.WriteU64(addr, v.Uint())
	case layout.KindF32:
		return mem.WriteU32(addr, math.Float32bits(float32(v.Float())))
	case layout.KindF64:
		return mem.WriteU64(addr, math.Float64bits(v.Float()))
	}
	return errNotScalar
}

// getScalar reads a value of kind k at addr as Go type t.
func getScalar(mem kernelrt.Memory, addr uint32, k layout.FieldKind, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch k {
	case layout.KindBool:
		b, err := mem.ReadU8(addr)
		if err != nil {
			return out, err
		}
		out.SetBool(b != 0)
	case layout.KindS8:
		b, err := mem.ReadU8(addr)
		if err != nil {
			return out, err
		}
		out.SetInt(int64(int8(b)))
	case layout.KindU8:
		b, err := mem.ReadU8(addr)
		if err != nil {
			return out, err
		}
		out.SetUint(uint64(b))
	case layout.KindS16:
		h, err := mem.ReadU16(addr)
		if err != nil {
			return out, err
		}
		out.SetInt(int64(int16(h)))
	case layout.KindU16:
		h, err := mem.ReadU16(addr)
		if err != nil {
			return out, err
		}
		out.SetUint(uint64(h))
	case layout.KindS32:
		w, err := mem.ReadU32(addr)
		if err != nil {
			return out, err
		}
		out.SetInt(int64(int32(w)))
	case layout.KindU32:
		w, err := mem.ReadU32(addr)
		if err != nil {
			return out, err
		}
		out.SetUint(uint64(w))
	case layout.KindS64:
		d, err := mem.ReadU64(addr)
		if err != nil {
			return out, err
		}
		out.SetInt(int64(d))
	case layout.KindU64:
		d, err := mem.ReadU64(addr)
		if err != nil {
			return out, err
		}
		out.SetUint(d)
	case layout.KindF32:
		w, err := mem.ReadU32(addr)
		if err != nil {
			return out, err
		}
		out.SetFloat(float64(math.Float32frombits(w)))
	case layout.KindF64:
		d, err := mem.ReadU64(addr)
		if err != nil {
			return out, err
		}
		out.SetFloat(math.Float64frombits(d))
	default:
		return out, errNotScalar
	}
	return out, nil
}
