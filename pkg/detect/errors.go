package detect

// detectError is a simple error type for the detect package
type detectError string

func (e detectError) Error() string { return string(e) }

// Errors for detector operations
const (
	ErrClosed            = detectError("detector is closed")
	ErrResultListFull    = detectError("result list is full")
	ErrNilImage          = detectError("nil image buffer")
	ErrUnsupportedFormat = detectError("unsupported image format")
	ErrOutputShape       = detectError("unexpected output shape")
	ErrNoInputs          = detectError("model has no inputs")
	ErrNoOutputs         = detectError("model has no outputs")
	ErrQuantParams       = detectError("quantised output needs a quantisation scale and zero point")
)
