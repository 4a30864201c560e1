package ending

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ResultStatus is the execution status of one phase.
type ResultStatus int

const (
	ResultPending ResultStatus = iota
	ResultSuccess
	ResultFailed
	ResultSkipped
)

func (s ResultStatus) String() string {
	switch s {
	case ResultSuccess:
		return "SUCCESS"
	case ResultFailed:
		return "FAILED"
	case ResultSkipped:
		return "SKIPPED"
	case ResultPending:
		return "PENDING"
	default:
		return fmt.Sprintf("UNKNOWN_STATUS_%d", int(s))
	}
}

// Result holds the outcome of a phase.
type Result struct {
	Name     string
	Status   ResultStatus
	Message  string
	Errors   []error
	Duration time.Duration
}

// NewResult creates a Result for the named phase, defaulting to Pending.
func NewResult(name string) *Result {
	return &Result{
		Name:   name,
		Status: ResultPending,
		Errors: make([]error, 0),
	}
}

// IsFailed reports whether the phase failed. A Pending result that has
// accumulated errors counts as failed.
func (r *Result) IsFailed() bool {
	if r.Status == ResultFailed {
		return true
	}
	return len(r.Errors) > 0 && r.Status == ResultPending
}

// AddError appends err and marks a Pending or Success result as Failed.
func (r *Result) AddError(err error) {
	if err == nil {
		return
	}
	r.Errors = append(r.Errors, err)
	if r.Status == ResultPending || r.Status == ResultSuccess {
		r.Status = ResultFailed
	}
}

// SetError records a failure with a message. A nil err with a message
// still records an error built from the message.
func (r *Result) SetError(err error, message string) {
	r.Message = message
	if err != nil {
		r.Errors = append(r.Errors, err)
	} else if message != "" && len(r.Errors) == 0 {
		r.Errors = append(r.Errors, errors.New(message))
	}
	r.Status = ResultFailed
}

// Succeed marks the phase successful unless it has already failed.
func (r *Result) Succeed(message string) {
	if r.IsFailed() {
		return
	}
	r.Status = ResultSuccess
	r.Message = message
}

// Skip marks the phase skipped.
func (r *Result) Skip(message string) {
	r.Status = ResultSkipped
	r.Message = message
}

// CombinedError returns nil, the single recorded error, or one error whose
// message joins every recorded error. The first error stays reachable via
// errors.Is.
func (r *Result) CombinedError() error {
	switch len(r.Errors) {
	case 0:
		return nil
	case 1:
		return r.Errors[0]
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return &multiError{errs: r.Errors, msg: "multiple errors occurred: " + strings.Join(msgs, "; ")}
}

func (r *Result) String() string {
	if r.Message == "" {
		return fmt.Sprintf("%s: %s", r.Name, r.Status)
	}
	return fmt.Sprintf("%s: %s (%s)", r.Name, r.Status, r.Message)
}

type multiError struct {
	errs []error
	msg  string
}

func (m *multiError) Error() string { return m.msg }

// Is matches any of the aggregated errors.
func (m *multiError) Is(target error) bool {
	for _, e := range m.errs {
		if errors.Is(e, target) {
			return true
		}
	}
	return false
}

// Combine folds the failures of several results into one error, in order.
// Results without errors contribute nothing; nil is returned when none failed.
func Combine(results ...*Result) error {
	agg := NewResult("")
	for _, r := range results {
		if r == nil {
			continue
		}
		if err := r.CombinedError(); err != nil {
			agg.Errors = append(agg.Errors, errors.WithMessage(err, r.Name))
		}
	}
	return agg.CombinedError()
}
