package util

import (
	"errors"
	"fmt"
	"strings"
)

type Code int8

const (
	OK Code = iota
	NotFound
	Corruption
	NotSupported
	InvalidArgument
	IOError
)

// StatusError carries a classification code alongside the message so that
// callers can branch on the kind of failure without string matching.
type StatusError struct {
	code Code
	msg  string
	msg2 string
}

func NewError(code Code, msg, msg2 string) error {
	if code == OK {
		panic("util: code cannot be OK")
	}
	return &StatusError{code: code, msg: msg, msg2: msg2}
}

func NotFoundError(msg ...string) error        { return newError(NotFound, msg) }
func CorruptionError(msg ...string) error      { return newError(Corruption, msg) }
func NotSupportedError(msg ...string) error    { return newError(NotSupported, msg) }
func InvalidArgumentError(msg ...string) error { return newError(InvalidArgument, msg) }
func IOErrorf(msg ...string) error             { return newError(IOError, msg) }

func newError(code Code, msg []string) error {
	switch len(msg) {
	case 0:
		return NewError(code, "", "")
	case 1:
		return NewError(code, msg[0], "")
	default:
		return NewError(code, msg[0], strings.Join(msg[1:], ": "))
	}
}

func (e *StatusError) Error() string {
	var b strings.Builder
	switch e.code {
	case NotFound:
		b.WriteString("NotFound: ")
	case Corruption:
		b.WriteString("Corruption: ")
	case NotSupported:
		b.WriteString("Not implemented: ")
	case InvalidArgument:
		b.WriteString("Invalid argument: ")
	case IOError:
		b.WriteString("IO error: ")
	default:
		fmt.Fprintf(&b, "Unknown code(%d): ", e.code)
	}
	b.WriteString(e.msg)
	if e.msg2 != "" {
		b.WriteString(": ")
		b.WriteString(e.msg2)
	}
	return b.String()
}

func (e *StatusError) Code() Code { return e.code }

func codeOf(err error) Code {
	var se *StatusError
	if errors.As(err, &se) {
		return se.code
	}
	if err == nil {
		return OK
	}
	return IOError
}

func IsNotFound(err error) bool        { return codeOf(err) == NotFound }
func IsCorruption(err error) bool      { return codeOf(err) == Corruption }
func IsNotSupported(err error) bool    { return codeOf(err) == NotSupported }
func IsInvalidArgument(err error) bool { return codeOf(err) == InvalidArgument }
func IsIOError(err error) bool         { return codeOf(err) == IOError }
