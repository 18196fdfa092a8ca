package uds

import "fmt"

// Code is a local error, distinct from the wire NRC space: transport
// failure, buffer sizing, and client-side validation (spec.md §7).
type Code uint8

const (
	ErrNone Code = iota
	ErrTimeout
	ErrDIDMismatch
	ErrSIDMismatch
	ErrSubFunctionMismatch
	ErrTransport
	ErrRespTooShort
	ErrBufSiz
	ErrInvalidArg
	ErrBusy
	ErrMisuse
	ErrFail
)

var codeNames = map[Code]string{
	ErrNone:                "NONE",
	ErrTimeout:             "TIMEOUT",
	ErrDIDMismatch:         "DID_MISMATCH",
	ErrSIDMismatch:         "SID_MISMATCH",
	ErrSubFunctionMismatch: "SUBFUNCTION_MISMATCH",
	ErrTransport:           "TPORT",
	ErrRespTooShort:        "RESP_TOO_SHORT",
	ErrBufSiz:              "BUFSIZ",
	ErrInvalidArg:          "INVALID_ARG",
	ErrBusy:                "BUSY",
	ErrMisuse:              "MISUSE",
	ErrFail:                "FAIL",
}

func (c Code) String() string {
	name, ok := codeNames[c]
	if !ok {
		return "UNKNOWN"
	}
	return name
}

func (c Code) Error() string {
	return fmt.Sprintf("uds: %s", c.String())
}

// Err wraps a Code as an error, matching the teacher's pattern of a small
// typed error that also carries a stable human-readable name.
type Err struct {
	Code Code
}

func (e Err) Error() string { return e.Code.Error() }

func NewErr(c Code) error { return Err{Code: c} }
