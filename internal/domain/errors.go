package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the queue
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when a job is no longer pending
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in pending status")

	// ErrInvalidPayload is returned when a job payload is malformed
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrUnknownJobType is returned for job types outside the closed set
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrNoWorkerForJobType is returned when no local worker services a job's type
	ErrNoWorkerForJobType = errors.New("no worker for job type")
)

// JobProcessingError is the single shape every job handler failure is normalized into
type JobProcessingError struct {
	JobID   string
	Message string
	Cause   error
}

func (e *JobProcessingError) Error() string {
	if e.JobID == "" {
		return "job processing failed: " + e.Message
	}
	return fmt.Sprintf("job %s processing failed: %s", e.JobID, e.Message)
}

func (e *JobProcessingError) Unwrap() error {
	return e.Cause
}

// NewJobProcessingError normalizes err for jobID. An error that already is a
// JobProcessingError is returned unchanged.
func NewJobProcessingError(jobID string, err error) *JobProcessingError {
	var jpe *JobProcessingError
	if errors.As(err, &jpe) {
		return jpe
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &JobProcessingError{JobID: jobID, Message: msg, Cause: err}
}

// FailureMessage is the human-readable message recorded on a failed job
func FailureMessage(err error) string {
	var jpe *JobProcessingError
	if errors.As(err, &jpe) {
		return jpe.Message
	}
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
