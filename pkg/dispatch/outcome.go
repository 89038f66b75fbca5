package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// FallbackLabel is returned when the service answers successfully but the
// body carries no usable label.
const FallbackLabel = "could not analyze"

// Outcome is the result of one analysis request: either a Label or an Err,
// never both.
type Outcome struct {
	// Label is the service's text, passed through unmodified.
	Label string

	// Err is set when the request failed.
	Err *Error

	// RequestID identifies the request in logs.
	RequestID uuid.UUID

	// Generation is the dispatcher generation the request was issued under.
	Generation uint64

	// Duration is the time spent waiting on the classifier.
	Duration time.Duration
}

// OK reports whether the outcome is a label.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// LabelOutcome builds a successful outcome.
func LabelOutcome(label string) Outcome {
	return Outcome{Label: label}
}

// ErrorOutcome builds a failed outcome.
func ErrorOutcome(err *Error) Outcome {
	return Outcome{Err: err}
}
