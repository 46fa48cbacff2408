package heap

import (
	"fmt"

	kernelrt "github.com/wippyai/kernel-runtime"
)

var _ kernelrt.Memory = Region(nil)

// Region adapts a byte slice to kernelrt.Memory.
type Region []byte

// Size returns the region length.
func (r Region) Size() uint32 {
	return uint32(len(r))
}

func (r Region) check(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(len(r)) {
		return fmt.Errorf("region access out of bounds: offset=%d, length=%d, size=%d", offset, length, len(r))
	}
	return nil
}

// Read returns a view of length bytes at offset.
func (r Region) Read(offset uint32, length uint32) ([]byte, error) {
	if err := r.check(offset, length); err != nil {
		return nil, err
	}
	return r[offset : offset+length], nil
}

// Write copies data to offset.
func (r Region) Write(offset uint32, data []byte) error {
	if err := r.check(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(r[offset:], data)
	return nil
}

// ReadU8 reads an unsigned 8-bit value.
func (r Region) ReadU8(offset uint32) (uint8, error) {
	if err := r.check(offset, 1); err != nil {
		return 0, err
	}
	return r[offset], nil
}

// ReadU16 reads an unsigned 16-bit little-endian value.
func (r Region) ReadU16(offset uint32) (uint16, error) {
	if err := r.check(offset, 2); err != nil {
		return 0, err
	}
	return le.Uint16(r[offset:]), nil
}

// ReadU32 reads an unsigned 32-bit little-endian value.
func (r Region) ReadU32(offset uint32) (uint32, error) {
	if err := r.check(offset, 4); err != nil {
		return 0, err
	}
	return le.Uint32(r[offset:]), nil
}

// ReadU64 reads an unsigned 64-bit little-endian value.
func (r Region) ReadU64(offset uint32) (uint64, error) {
	if err := r.check(offset, 8); err != nil {
		return 0, err
	}
	return le.Uint64(r[offset:]), nil
}

// WriteU8 writes an unsigned 8-bit value.
func (r Region) WriteU8(offset uint32, value uint8) error {
	if err := r.check(offset, 1); err != nil {
		return err
	}
	r[offset] = value
	return nil
}

// WriteU16 writes an unsigned 16-bit little-endian value.
func (r Region) WriteU16(offset uint32, value uint16) error {
	if err := r.check(offset, 2); err != nil {
		return err
	}
	le.PutUint16(r[offset:], value)
	return nil
}

// WriteU32 writes an unsigned 32-bit little-endian value.
func (r Region) WriteU32(offset uint32, value uint32) error {
	if err := r.check(offset, 4); err != nil {
		return err
	}
	le.PutUint32(r[offset:], value)
	return nil
}

// WriteU64 writes an unsigned 64-bit little-endian value.
func (r Region) WriteU64(offset uint32, value uint64) error {
	if err := r.check(offset, 8); err != nil {
		return err
	}
	le.PutUint64(r[offset:], value)
	return nil
}
