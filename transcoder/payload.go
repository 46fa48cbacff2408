package transcoder

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/kernel-runtime/layout"
)

// Exception payloads are CBOR maps of the exception type's exported fields,
// canonically encoded so identical errors produce identical slots.
var payloadEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("transcoder: failed to create CBOR enc mode: %v", err))
	}
	payloadEncMode = em
}

// MarshalException encodes err as an exception slot payload.
func MarshalException(err error) ([]byte, error) {
	return payloadEncMode.Marshal(err)
}

// MessagePayload returns the payload of a KernelError carrying msg.
func MessagePayload(msg string) []byte {
	b, err := payloadEncMode.Marshal(&layout.KernelError{Message: msg})
	if err != nil {
		// A struct with one string field always encodes.
		panic(fmt.Sprintf("transcoder: encode message payload: %v", err))
	}
	return b
}

// UnmarshalException reconstructs an instance of exception class c from payload.
func UnmarshalException(c *layout.Class, payload []byte) (error, error) {
	if c.Kind != layout.ClassException {
		return nil, fmt.Errorf("class %s is not an exception class", c.Name)
	}
	ptr := reflect.New(c.GoType)
	if len(payload) > 0 {
		if err := cbor.Unmarshal(payload, ptr.Interface()); err != nil {
			return nil, fmt.Errorf("transcoder: unmarshal %s payload: %w", c.Name, err)
		}
	}
	if e, ok := ptr.Interface().(error); ok {
		return e, nil
	}
	if e, ok := ptr.Elem().Interface().(error); ok {
		return e, nil
	}
	return nil, fmt.Errorf("class %s does not implement error", c.Name)
}
