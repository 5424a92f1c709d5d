package pipeline

import (
	"context"
	"errors"
)

var (
	// ErrTransient marks failures worth retrying on the next cycle:
	// timeouts, rate limits, busy or unreachable servers.
	ErrTransient = errors.New("transient external failure")
	// ErrFatal marks failures that will not heal by retrying: malformed
	// output after a parse retry, missing endpoints, logic errors.
	ErrFatal = errors.New("fatal external failure")
	// ErrTranscriberUnavailable is returned when speech recognition is not
	// loaded or reachable.
	ErrTranscriberUnavailable = errors.New("transcriber unavailable")
)

// Outcome classifies how a role call ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient"
	OutcomeFatal     Outcome = "fatal"
	OutcomeStale     Outcome = "stale"
)

// Classify maps a role error onto an Outcome. Anything not explicitly
// transient is fatal.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return OutcomeTransient
	default:
		return OutcomeFatal
	}
}
