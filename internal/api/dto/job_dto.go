package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/contentgen-be/internal/domain"
)

type CreateJobRequest struct {
	Type    string          `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload" binding:"required"`
}

type ListJobsRequest struct {
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID       string          `json:"job_id"`
	UserID      string          `json:"user_id"`
	JobType     string          `json:"job_type"`
	Status      string          `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   string          `json:"created_at"`
	StartedAt   string          `json:"started_at,omitempty"`
	CompletedAt string          `json:"completed_at,omitempty"`
}

// NewJobDTO converts a domain job into its API representation
func NewJobDTO(job *domain.Job) JobDTO {
	out := JobDTO{
		JobID:     job.ID,
		UserID:    job.UserID,
		JobType:   string(job.Type),
		Status:    string(job.Status),
		Payload:   job.Payload,
		Result:    job.Result,
		Error:     job.ErrorMessage(),
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		out.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		out.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return out
}
