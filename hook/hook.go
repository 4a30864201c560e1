package hook

import (
	"github.com/pkg/errors"
)

// Interface is a unit of work with guaranteed cleanup. Finally runs exactly
// once per Call, after Try and Catch, even when either of them panics.
type Interface interface {
	Try() error
	Catch(err error) error
	Finally()
}

// ErrPanic is wrapped around a value recovered from Try or Catch.
var ErrPanic = errors.New("panic occurred during hook execution")

func Call(hook Interface) (err error) {
	if hook == nil {
		return errors.New("hook cannot be nil")
	}

	defer hook.Finally()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrPanic, "%v", r)
		}
	}()

	if tryErr := hook.Try(); tryErr != nil {
		return hook.Catch(tryErr)
	}

	return nil
}

// Funcs adapts plain functions to Interface. Nil fields are no-ops; a nil
// CatchFn returns the Try error unchanged.
type Funcs struct {
	TryFn     func() error
	CatchFn   func(err error) error
	FinallyFn func()
}

func (f Funcs) Try() error {
	if f.TryFn == nil {
		return nil
	}
	return f.TryFn()
}

func (f Funcs) Catch(err error) error {
	if f.CatchFn == nil {
		return err
	}
	return f.CatchFn(err)
}

func (f Funcs) Finally() {
	if f.FinallyFn != nil {
		f.FinallyFn()
	}
}
