package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job is one unit of work persisted to the queue before execution.
// State machine: received -> rate-limited-wait -> executing -> terminal.
type Job struct {
	ID         uuid.UUID       `json:"id"`
	Platform   Platform        `json:"platform"`
	Type       OperationType   `json:"type"`
	EventType  string          `json:"event_type,omitempty"`
	ExternalID string          `json:"external_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	// Scope carries optional bulk-sync scoping such as campaign or org id
	Scope map[string]string `json:"scope,omitempty"`
	// OperationID links back to the ledger row created at enqueue time
	OperationID uuid.UUID `json:"operation_id"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Encode serializes the job for the queue
func (j *Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// DecodeJob deserializes a queue payload
func DecodeJob(payload []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
