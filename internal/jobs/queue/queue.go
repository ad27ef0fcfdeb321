// Package queue carries ingestion jobs from the API to the worker pool.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	DefaultRedisKey      = "ingestion"
	DefaultChannelBuffer = 256
)

var ErrQueueClosed = errors.New("job queue closed")

// Job is one unit of background work. Payload is decoded by the handler
// registered for Type.
type Job struct {
	Type       string          `json:"type"`
	TaskID     string          `json:"task_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewJob encodes payload into a Job stamped with the current time.
func NewJob(jobType, taskID string, payload any) (Job, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Job{}, err
		}
		raw = b
	}
	return Job{Type: jobType, TaskID: taskID, Payload: raw, EnqueuedAt: time.Now().UTC()}, nil
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available, ctx is done, or the queue is
	// closed (ErrQueueClosed).
	Dequeue(ctx context.Context) (Job, error)
	Close() error
}
