package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/contentgen-be/internal/api/dto"
	"github.com/cuongbtq/contentgen-be/internal/domain"
	"github.com/cuongbtq/contentgen-be/internal/queue"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /api/v1/jobs
// The payload owner is always the authenticated user
func (h *JobHandler) CreateJob(c *gin.Context) {
	user := CurrentUser(c)

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	jobType := domain.JobType(req.Type)
	if !jobType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unknown job type",
		})
		return
	}

	payload, err := ownedPayload(jobType, req.Payload, user.ID)
	if err != nil {
		h.logger.Warn("Invalid job payload",
			slog.String("job_type", req.Type),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	job, err := h.store.Enqueue(c.Request.Context(), payload)
	if err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.NewJobDTO(job))
}

// ownedPayload rewrites the payload's userId to owner before validating it
func ownedPayload(jobType domain.JobType, raw json.RawMessage, owner string) (domain.Payload, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, domain.ErrInvalidPayload
	}
	fields["userId"] = owner

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, domain.ErrInvalidPayload
	}
	return domain.DecodePayload(jobType, body)
}

// GetJob handles GET /api/v1/jobs/:job_id
// Jobs of other users are reported as not found
func (h *JobHandler) GetJob(c *gin.Context) {
	job, ok := h.loadOwnedJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists the caller's jobs newest first with cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	user := CurrentUser(c)

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	if req.JobType != "" && !domain.JobType(req.JobType).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unknown job type",
		})
		return
	}

	switch domain.JobStatus(req.Status) {
	case "", domain.JobStatusPending, domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobStatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unknown job status",
		})
		return
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := queue.JobFilter{
		UserID:   user.ID,
		JobType:  domain.JobType(req.JobType),
		Status:   domain.JobStatus(req.Status),
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = dto.NewJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&queue.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// RunJob handles POST /api/v1/jobs/:job_id/run
// Executes a pending job synchronously on this instance's worker
func (h *JobHandler) RunJob(c *gin.Context) {
	if h.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "No worker available on this instance",
		})
		return
	}

	job, ok := h.loadOwnedJob(c)
	if !ok {
		return
	}

	if job.Status != domain.JobStatusPending {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "Job is not pending",
			"status": job.Status,
		})
		return
	}

	finished, err := h.runner.ProcessJobByID(c.Request.Context(), job.ID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Job is not pending",
			})
			return
		}
		if errors.Is(err, domain.ErrNoWorkerForJobType) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "No worker for this job type on this instance",
			})
			return
		}
		h.logger.Error("Failed to run job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to run job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(finished))
}

// loadOwnedJob writes the error response itself and reports false on failure
func (h *JobHandler) loadOwnedJob(c *gin.Context) (*domain.Job, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return nil, false
	}

	job, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return nil, false
		}
		h.logger.Error("Failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return nil, false
	}

	if job.UserID != CurrentUser(c).ID {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
		return nil, false
	}
	return job, true
}
