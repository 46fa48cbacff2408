package layout

// Ids of the classes every registry starts with.
const (
	StringClassID      int32 = 0
	KernelErrorClassID int32 = 1
)

// KernelError is the exception class raised by native bodies that report only
// a message.
type KernelError struct {
	Message string `cbor:"message"`
}

func (e *KernelError) Error() string {
	return e.Message
}
