package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrDisposed         = errors.New("session disposed")
	ErrInvalidState     = errors.New("operation not allowed in current session state")
	ErrGateNotReady     = errors.New("required proctoring capabilities not granted")
	ErrRoleCannotTake   = errors.New("role cannot take tests")
	ErrNotAvailable     = errors.New("test is not open")
	ErrQuestionMismatch = errors.New("answer targets a question other than the current one")
	ErrNotMatching      = errors.New("current question is not a matching question")
	ErrSlotOutOfRange   = errors.New("matching slot out of range")
	ErrInvalidFlag      = errors.New("unknown proctor flag type")
	ErrSubmitInFlight   = errors.New("submission already in progress")
	ErrNoQuestions      = errors.New("test has no questions")
)

// LoadError reports that a session could not be entered because the test or
// its questions were unavailable.
type LoadError struct {
	TestID uuid.UUID
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load test %s: %v", e.TestID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SubmissionError reports a failed submission. The session stays retryable.
type SubmissionError struct {
	AttemptID uuid.UUID
	Err       error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit attempt %s: %v", e.AttemptID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
