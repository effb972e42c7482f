// Package sdeerr defines the flat error taxonomy shared by every layer of
// the composition core, mirroring the DisplayError enum of the hardware
// core this package replaces: a small closed set of causes rather than a
// growing pile of ad-hoc sentinel values.
package sdeerr

import "fmt"

// Code is one of a fixed set of failure causes. Callers switch on Code,
// never on error strings.
type Code int

const (
	None Code = iota
	Undefined
	NotSupported
	Version
	DataAlignment
	InstructionSet
	Parameters
	FileDescriptor
	Memory
	Resources
	Hardware
	TimeOut
	ShutDown
	Permission
)

func (c Code) String() string {
	switch c {
	case None:
		return "none"
	case Undefined:
		return "undefined"
	case NotSupported:
		return "not supported"
	case Version:
		return "version mismatch"
	case DataAlignment:
		return "data alignment"
	case InstructionSet:
		return "instruction set"
	case Parameters:
		return "invalid parameters"
	case FileDescriptor:
		return "file descriptor"
	case Memory:
		return "memory"
	case Resources:
		return "resources exhausted"
	case Hardware:
		return "hardware"
	case TimeOut:
		return "timeout"
	case ShutDown:
		return "shutting down"
	case Permission:
		return "permission"
	default:
		return "undefined"
	}
}

// Error pairs a Code with the component that raised it and, optionally,
// the underlying cause. It unwraps to that cause so callers can still use
// errors.Is/As against lower-level sentinels (e.g. os.ErrClosed on a fence).
type Error struct {
	Op   string
	Code Code
	Err  error
}

func New(op string, code Code) *Error {
	return &Error{Op: op, Code: code}
}

func Wrap(op string, code Code, err error) *Error {
	return &Error{Op: op, Code: code, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the Code from err, returning Undefined for any error
// that did not originate in this package.
func CodeOf(err error) Code {
	var se *Error
	if err == nil {
		return None
	}
	if AsError(err, &se) {
		return se.Code
	}
	return Undefined
}

// AsError is a thin errors.As wrapper kept local so callers don't need to
// import "errors" just to unpack a *sdeerr.Error.
func AsError(err error, target **Error) bool {
	for err != nil {
		if se, ok := err.(*Error); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
