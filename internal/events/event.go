// Package events delivers job notifications to connected browser clients. A Bus
// publishes through a Transport so every server instance sees every message, and
// each instance hands the message only to its own local connections.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/contentgen-be/internal/domain"
)

// Event type tags
const (
	TypeJobCompletion = "job_completion"
	TypeEntityChange  = "entity_change"
)

// Entity change kinds
const (
	ChangeCreate = "create"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

// Event is a notification pushed to clients
type Event interface {
	EventType() string
}

// JobCompletionEvent reports that a job reached a terminal status
type JobCompletionEvent struct {
	JobID    string           `json:"jobId"`
	JobType  domain.JobType   `json:"jobType"`
	Status   domain.JobStatus `json:"status"`
	EntityID string           `json:"entityId,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// EntityChangeEvent tells clients to refresh an entity
type EntityChangeEvent struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	ChangeType string `json:"changeType"`
}

func (JobCompletionEvent) EventType() string { return TypeJobCompletion }
func (EntityChangeEvent) EventType() string  { return TypeEntityChange }

// NewJobCompletionEvent builds the completion event for a finished job
func NewJobCompletionEvent(job *domain.Job, entity domain.EntityRef) JobCompletionEvent {
	return JobCompletionEvent{
		JobID:    job.ID,
		JobType:  job.Type,
		Status:   job.Status,
		EntityID: entity.ID,
		Error:    job.ErrorMessage(),
	}
}

// envelope is the JSON shape clients receive in each frame
type envelope struct {
	Type string `json:"type"`
	Data Event  `json:"data"`
}

// Encode serializes an event into its client wire form
func Encode(event Event) ([]byte, error) {
	if event == nil {
		return nil, fmt.Errorf("nil event")
	}
	data, err := json.Marshal(envelope{Type: event.EventType(), Data: event})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", event.EventType(), err)
	}
	return data, nil
}

// Message is what travels over a Transport. UserID is ignored when Broadcast is set.
type Message struct {
	UserID    string          `json:"userId,omitempty"`
	Broadcast bool            `json:"broadcast,omitempty"`
	Event     json.RawMessage `json:"event"`
}
