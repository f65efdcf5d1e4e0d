package models

import (
	"time"

	"github.com/google/uuid"
)

// OperationType distinguishes how a synchronization was triggered
type OperationType string

const (
	OperationWebhook    OperationType = "webhook"
	OperationBulkSync   OperationType = "bulk_sync"
	OperationManualSync OperationType = "manual_sync"
)

// OperationStatus represents the lifecycle state of a sync operation.
// Transitions are one-directional: pending -> processing -> terminal.
type OperationStatus string

const (
	StatusPending    OperationStatus = "pending"
	StatusProcessing OperationStatus = "processing"
	StatusSuccess    OperationStatus = "success"
	StatusFailed     OperationStatus = "failed"
	StatusSkipped    OperationStatus = "skipped"
)

// Terminal reports whether s is a terminal status
func (s OperationStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// SyncOperation is one attempted reconciliation, kept for audit, retry
// accounting and statistics. Created when a job starts; the terminal
// update is the only further mutation. Never deleted by the sync engine.
// Maps to: sync_operations table
type SyncOperation struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	Platform        Platform        `db:"platform" json:"platform"`
	OperationType   OperationType   `db:"operation_type" json:"operation_type"`
	ExternalID      string          `db:"external_id" json:"external_id"`
	MemberID        *uuid.UUID      `db:"member_id" json:"member_id,omitempty"`
	Status          OperationStatus `db:"status" json:"status"`
	PayloadSnapshot []byte          `db:"payload_snapshot" json:"payload_snapshot,omitempty"`
	ErrorMessage    *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt     *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}

// OperationStats aggregates ledger counts over a rolling window
type OperationStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Success    int `json:"success"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}
