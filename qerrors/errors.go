// Package qerrors defines the coded error type returned by every stage of
// the query compiler and its execution plans.
package qerrors

import (
	stderrors "errors"
	"fmt"
)

type ErrorCode string

const (
	ErrUnsupported      ErrorCode = "unsupported_shape"
	ErrScope            ErrorCode = "scope"
	ErrRecursiveInclude ErrorCode = "recursive_include"
	ErrRuntime          ErrorCode = "runtime"
	ErrCardinality      ErrorCode = "cardinality"
	ErrMapping          ErrorCode = "mapping"
	ErrArgument         ErrorCode = "argument"
)

// Error is a compiler or execution failure. Expr holds the rendered
// sub-expression that caused it, when there is one.
type Error struct {
	Code  ErrorCode
	Msg   string
	Expr  string
	Cause error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Expr != "" {
		msg += " in " + e.Expr
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(code ErrorCode, msg string, cause error) *Error {
	return &Error{Code: code, Msg: msg, Cause: cause}
}

// WithExpr returns a copy of e annotated with the offending expression.
func (e *Error) WithExpr(expr string) *Error {
	c := *e
	c.Expr = expr
	return &c
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	var qe *Error
	for err != nil {
		if !stderrors.As(err, &qe) {
			return false
		}
		if qe.Code == code {
			return true
		}
		err = qe.Cause
	}
	return false
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var qe *Error
	if stderrors.As(err, &qe) {
		return qe.Code
	}
	return ""
}
