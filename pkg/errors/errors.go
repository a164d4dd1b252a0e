package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a VM failure.
type Kind int

const (
	KindResource Kind = iota + 1
	KindCodeBounds
	KindOperandBounds
	KindStackBounds
	KindBadPointer
	KindInvalidOpcode
	KindReservedRegister
	KindDivide
	KindUnsupportedHost
)

var kindNames = map[Kind]string{
	KindResource:         "resource exhausted",
	KindCodeBounds:       "code bounds",
	KindOperandBounds:    "operand bounds",
	KindStackBounds:      "stack bounds",
	KindBadPointer:       "bad pointer",
	KindInvalidOpcode:    "invalid opcode",
	KindReservedRegister: "reserved register",
	KindDivide:           "divide error",
	KindUnsupportedHost:  "unsupported host",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// VMError is an unrecoverable fault raised while decoding, compiling or
// running bytecode. PC is the bytecode address involved, or -1 when none is.
type VMError struct {
	Kind    Kind
	PC      int64
	Message string
	Cause   error
}

func (e *VMError) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.PC >= 0 {
		msg = fmt.Sprintf("pc %#x: %s", e.PC, msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *VMError) Unwrap() error {
	return e.Cause
}

// Is matches another *VMError of the same kind, so sentinel comparisons work
// with errors.Is.
func (e *VMError) Is(target error) bool {
	t, ok := target.(*VMError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.PC == -1 && t.Message == "" && t.Cause == nil
}

// Sentinels for errors.Is checks.
var (
	ErrResource         = &VMError{Kind: KindResource, PC: -1}
	ErrCodeBounds       = &VMError{Kind: KindCodeBounds, PC: -1}
	ErrOperandBounds    = &VMError{Kind: KindOperandBounds, PC: -1}
	ErrStackBounds      = &VMError{Kind: KindStackBounds, PC: -1}
	ErrBadPointer       = &VMError{Kind: KindBadPointer, PC: -1}
	ErrInvalidOpcode    = &VMError{Kind: KindInvalidOpcode, PC: -1}
	ErrReservedRegister = &VMError{Kind: KindReservedRegister, PC: -1}
	ErrDivide           = &VMError{Kind: KindDivide, PC: -1}
	ErrUnsupportedHost  = &VMError{Kind: KindUnsupportedHost, PC: -1}
)

// New creates a VMError at pc with a formatted message.
func New(kind Kind, pc int64, format string, args ...interface{}) *VMError {
	return &VMError{
		Kind:    kind,
		PC:      pc,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error as a VMError of the given kind.
func Wrap(kind Kind, pc int64, err error, message string) *VMError {
	return &VMError{
		Kind:    kind,
		PC:      pc,
		Message: message,
		Cause:   err,
	}
}

// KindOf returns the kind of the first VMError in err's chain, or 0.
func KindOf(err error) Kind {
	var vmErr *VMError
	if errors.As(err, &vmErr) {
		return vmErr.Kind
	}
	return 0
}

// IsFatal reports whether err carries a VMError. Every VM fault is fatal to
// the core that raised it.
func IsFatal(err error) bool {
	return KindOf(err) != 0
}
