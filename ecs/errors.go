package ecs

import (
	"github.com/rotisserie/eris"
)

// The three error classes surfaced by the engine. Authoring mistakes
// (unknown fields, missing entitlements, capacity bounds, wrong world state)
// wrap ErrCheck; invariant violations inside the engine wrap ErrInternal;
// cooperative cancellation of a coroutine wraps ErrCanceled.
// Use errors.Is to classify.
var (
	ErrCheck    = eris.New("check error")
	ErrInternal = eris.New("internal error")
	ErrCanceled = eris.New("coroutine canceled")
)

func checkf(format string, args ...any) error {
	return eris.Wrapf(ErrCheck, format, args...)
}

func internalf(format string, args ...any) error {
	return eris.Wrapf(ErrInternal, format, args...)
}

func canceledf(format string, args ...any) error {
	return eris.Wrapf(ErrCanceled, format, args...)
}
