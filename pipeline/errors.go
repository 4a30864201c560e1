package pipeline

import (
	"github.com/pkg/errors"

	"github.com/mensylisir/sshdeploy/config"
)

// Error kinds. Every error a run reports matches exactly one of these with
// errors.Is.
var (
	ErrConfiguration = config.ErrInvalid
	ErrConnection    = errors.New("connection failed")
	ErrUpload        = errors.New("upload failed")
	ErrCommand       = errors.New("command failed")
	ErrUnexpected    = errors.New("unexpected error")
)

// kindError tags err with one of the kinds above while keeping err in the
// chain.
type kindError struct {
	kind error
	err  error
}

func newError(kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

func (e *kindError) Error() string {
	return e.kind.Error() + ": " + e.err.Error()
}

func (e *kindError) Is(target error) bool {
	return target == e.kind
}

func (e *kindError) Unwrap() error {
	return e.err
}

func (e *kindError) Cause() error {
	return e.err
}
