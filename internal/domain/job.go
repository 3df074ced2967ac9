package domain

import (
	"encoding/json"
	"time"
)

// Job represents one unit of asynchronous generation work
type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Status      JobStatus       `json:"status"`
	UserID      string          `json:"user_id"`
	Payload     json.RawMessage `json:"payload"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ErrorMessage returns the recorded failure message or an empty string
func (j *Job) ErrorMessage() string {
	if j.Error == nil {
		return ""
	}
	return *j.Error
}

// DecodedPayload decodes the job payload according to its type
func (j *Job) DecodedPayload() (Payload, error) {
	return DecodePayload(j.Type, j.Payload)
}

// User is the minimal identity a job runs on behalf of
type User struct {
	ID    string
	Role  string
	Email string
}

// NewJobUser builds the synthetic identity used while a single job executes
func NewJobUser(userID string) User {
	return User{ID: userID, Role: RoleUser}
}
