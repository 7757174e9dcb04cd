// Package errs defines the result-code taxonomy shared by every subsystem.
//
// Real-time paths (the ADC source, the DSP frontend, the oscillogram engine)
// never propagate these up a call stack; they log and drop. The logger state
// machine and the storage worker are the only consumers that branch on a Code.
package errs

import "fmt"

// Code is a closed taxonomy of failure reasons, mirroring the firmware's err_t.
type Code int

const (
	NoError Code = iota
	NullPointer
	InvalidValue
	OutOfRange
	OutOfMemory
	IOError
	State
)

func (c Code) String() string {
	switch c {
	case NoError:
		return "no_error"
	case NullPointer:
		return "null_pointer"
	case InvalidValue:
		return "invalid_value"
	case OutOfRange:
		return "out_of_range"
	case OutOfMemory:
		return "out_of_memory"
	case IOError:
		return "io_error"
	case State:
		return "state"
	default:
		return "unknown"
	}
}

// Err wraps a Code as a Go error, optionally carrying context.
type Err struct {
	Code Code
	Msg  string
}

func (e *Err) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// New builds an *Err for the given code with a formatted message.
func New(code Code, format string, args ...any) *Err {
	return &Err{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Is reports whether err carries the given Code, unwrapping *Err values.
func Is(err error, code Code) bool {
	e, ok := err.(*Err)
	if !ok {
		return false
	}
	return e.Code == code
}

var (
	ErrNullPointer  = &Err{Code: NullPointer}
	ErrOutOfMemory  = &Err{Code: OutOfMemory}
	ErrOutOfRange   = &Err{Code: OutOfRange}
	ErrInvalidValue = &Err{Code: InvalidValue}
	ErrIO           = &Err{Code: IOError}
	ErrState        = &Err{Code: State}
)
