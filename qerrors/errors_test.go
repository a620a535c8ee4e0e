package qerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	t.Parallel()
	e := New(ErrUnsupported, "cannot bind %s", "Reverse")
	assert.Equal(t, "unsupported_shape: cannot bind Reverse", e.Error())

	e = e.WithExpr("Reverse(Customers)")
	assert.Equal(t, "unsupported_shape: cannot bind Reverse in Reverse(Customers)", e.Error())
}

func TestWrapUnwrap(t *testing.T) {
	t.Parallel()
	cause := errors.New("driver: bad connection")
	e := Wrap(ErrRuntime, "execute", cause)
	assert.ErrorIs(t, e, cause)
	assert.Equal(t, "runtime: execute: driver: bad connection", e.Error())
}

func TestIsAndCodeOf(t *testing.T) {
	t.Parallel()
	inner := New(ErrScope, "column t3.Name not in scope")
	outer := fmt.Errorf("compile: %w", Wrap(ErrUnsupported, "bind", inner))

	assert.True(t, Is(outer, ErrUnsupported))
	assert.True(t, Is(outer, ErrScope))
	assert.False(t, Is(outer, ErrRuntime))
	assert.Equal(t, ErrUnsupported, CodeOf(outer))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}
