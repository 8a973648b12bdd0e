package review

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that the requested session or object does not exist.
	ErrNotFound = errors.New("not found")
	// ErrFetch wraps failures talking to the review or metadata source.
	ErrFetch = errors.New("fetch failed")
	// ErrPersistence wraps storage faults.
	ErrPersistence = errors.New("persistence failed")
)

// ValidationError reports bad client input. It never reaches the pipeline.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Pipeline stages recorded on item faults.
const (
	StageSave      = "save"
	StageNormalize = "normalize"
	StagePersist   = "persist"
)

// ItemFault records a single review that was skipped by a log-and-continue
// step.
type ItemFault struct {
	ReviewID string
	Stage    string
	Err      error
}

func (f ItemFault) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Stage, f.ReviewID, f.Err)
}

func (f ItemFault) Unwrap() error {
	return f.Err
}
