// Package errors provides error handling with lazy stack trace support.
// Drop-in replacement for github.com/pkg/errors using only standard library.
//
// Stack traces are captured lazily: constructors record raw program
// counters only, and the human-readable stack is resolved when the error
// is formatted with %+v.
package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"runtime"
)

// Frame represents a program counter inside a stack frame.
// For historical reasons if Frame is interpreted as a uintptr
// its value represents the program counter + 1.
type Frame uintptr

func (f Frame) pc() uintptr { return uintptr(f) - 1 }

// Format formats the frame according to the fmt.Formatter interface.
//
//	%s    source file
//	%d    source line
//	%n    function name
//	%v    equivalent to %s:%d
//	%+s   function name and path of source file separated by \n\t
//	%+v   equivalent to %+s:%d
func (f Frame) Format(s fmt.State, verb rune) {
	pc := f.pc()
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		io.WriteString(s, "unknown")
		return
	}

	switch verb {
	case 's':
		file, _ := fn.FileLine(pc)
		if s.Flag('+') {
			io.WriteString(s, fn.Name())
			io.WriteString(s, "\n\t")
			io.WriteString(s, file)
		} else {
			io.WriteString(s, file)
		}
	case 'd':
		_, line := fn.FileLine(pc)
		io.WriteString(s, fmt.Sprintf("%d", line))
	case 'n':
		io.WriteString(s, fn.Name())
	case 'v':
		f.Format(s, 's')
		io.WriteString(s, ":")
		f.Format(s, 'd')
	}
}

// StackTrace is a stack of Frames from innermost (newest) to outermost (oldest).
type StackTrace []Frame

func (st StackTrace) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		switch {
		case s.Flag('+'):
			for _, f := range st {
				io.WriteString(s, "\n")
				f.Format(s, verb)
			}
		case s.Flag('#'):
			fmt.Fprintf(s, "%#v", []Frame(st))
		default:
			st.formatSlice(s, verb)
		}
	case 's':
		st.formatSlice(s, verb)
	}
}

func (st StackTrace) formatSlice(s fmt.State, verb rune) {
	io.WriteString(s, "[")
	for i, f := range st {
		if i > 0 {
			io.WriteString(s, " ")
		}
		f.Format(s, verb)
	}
	io.WriteString(s, "]")
}

const maxStackDepth = 32

// captureStack records program counters only, no string allocation.
// skip counts the frames between the caller of interest and runtime.Callers.
func captureStack(skip int) []uintptr {
	var pcs [maxStackDepth]uintptr
	n := runtime.Callers(skip, pcs[:])
	stack := make([]uintptr, n)
	copy(stack, pcs[:n])
	return stack
}

// stackError is an error with a captured stack trace
type stackError struct {
	msg   string
	cause error
	stack []uintptr // raw program counters, resolved lazily
}

func (e *stackError) Error() string {
	if e.cause != nil {
		if e.msg != "" {
			return e.msg + ": " + e.cause.Error()
		}
		return e.cause.Error()
	}
	return e.msg
}

func (e *stackError) Unwrap() error {
	return e.cause
}

// StackTrace returns the stack trace, compatible with github.com/pkg/errors.
func (e *stackError) StackTrace() StackTrace {
	st := make(StackTrace, len(e.stack))
	for i, pc := range e.stack {
		st[i] = Frame(pc)
	}
	return st
}

// Format implements fmt.Formatter.
// %s, %v print the error message only; %+v also resolves the stack trace.
func (e *stackError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			io.WriteString(s, e.Error())
			frames := runtime.CallersFrames(e.stack)
			for {
				frame, more := frames.Next()
				if frame.Function == "" {
					break
				}
				fmt.Fprintf(s, "\n%s\n\t%s:%d", frame.Function, frame.File, frame.Line)
				if !more {
					break
				}
			}
			return
		}
		fallthrough
	case 's':
		io.WriteString(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// withMessage wraps error with message but no new stack trace
type withMessage struct {
	cause error
	msg   string
}

func (w *withMessage) Error() string {
	return w.msg + ": " + w.cause.Error()
}

func (w *withMessage) Unwrap() error {
	return w.cause
}

func (w *withMessage) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%+v\n", w.cause)
			io.WriteString(s, w.msg)
			return
		}
		fallthrough
	case 's':
		io.WriteString(s, w.Error())
	case 'q':
		fmt.Fprintf(s, "%q", w.Error())
	}
}

// New creates an error with a message and captures the stack trace.
func New(message string) error {
	return &stackError{
		msg:   message,
		stack: captureStack(3), // skip: Callers, captureStack, New
	}
}

// Errorf creates a formatted error with stack trace.
func Errorf(format string, args ...any) error {
	return &stackError{
		msg:   fmt.Sprintf(format, args...),
		stack: captureStack(3),
	}
}

// Wrap wraps an error with a message and captures the stack trace.
// Returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &stackError{
		msg:   message,
		cause: err,
		stack: captureStack(3),
	}
}

// Wrapf wraps an error with a formatted message and captures the stack trace.
// Returns nil if err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &stackError{
		msg:   fmt.Sprintf(format, args...),
		cause: err,
		stack: captureStack(3),
	}
}

// WithStack adds a stack trace to an existing error without additional message.
// Returns nil if err is nil.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &stackError{
		cause: err,
		stack: captureStack(3),
	}
}

// WithMessage wraps an error with a message but NO new stack trace.
// Returns nil if err is nil.
func WithMessage(err error, message string) error {
	if err == nil {
		return nil
	}
	return &withMessage{
		cause: err,
		msg:   message,
	}
}

// WithMessagef wraps an error with a formatted message but NO new stack trace.
// Returns nil if err is nil.
func WithMessagef(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &withMessage{
		cause: err,
		msg:   fmt.Sprintf(format, args...),
	}
}

// Cause returns the root cause of the error by unwrapping all layers.
func Cause(err error) error {
	for err != nil {
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		unwrapped := unwrapper.Unwrap()
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}
	return err
}

// Re-exports from the standard library.
var (
	Is     = stderrors.Is
	As     = stderrors.As
	Unwrap = stderrors.Unwrap
	Join   = stderrors.Join
)
