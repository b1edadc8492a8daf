package proto

// ErrorClass names the error taxonomy of spec.md §7, carried on every
// non-ok Response as the "class" field.
type ErrorClass string

const (
	ErrProtocolError    ErrorClass = "ProtocolError"
	ErrInvalidParameter ErrorClass = "InvalidParameter"
	ErrInvalidResource  ErrorClass = "InvalidResource"
	ErrHardwareError    ErrorClass = "HardwareError"
	ErrNFCException     ErrorClass = "NFCException"
	ErrStateError       ErrorClass = "StateError"
	ErrQueueOverflow    ErrorClass = "QueueOverflow"
)

// Error is a classified protocol-level error. It satisfies the error
// interface so it can flow through ordinary Go error handling while still
// carrying the wire-visible class and message.
type Error struct {
	Class ErrorClass
	Msg   string
}

func NewError(class ErrorClass, msg string) *Error {
	return &Error{Class: class, Msg: msg}
}

func (e *Error) Error() string {
	return string(e.Class) + ": " + e.Msg
}

// AsProtoError unwraps err into a *Error, synthesizing a generic
// StateError-classed wrapper if err doesn't already carry a class — this
// keeps every code path that can fail able to produce a well-formed
// Response without every call site needing to know the taxonomy.
func AsProtoError(err error) *Error {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*Error); ok {
		return pe
	}
	return &Error{Class: ErrStateError, Msg: err.Error()}
}
