// ABOUTME: Call ledger types and the Store interface.
// ABOUTME: Records one row per generic call with its terminal status and update counters.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Call statuses.
const (
	StatusPending = "pending"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

// CallRecord is one ledger row.
type CallRecord struct {
	ID           string     `json:"id"`
	Method       string     `json:"method"`
	Kind         string     `json:"kind"`
	Status       string     `json:"status"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Updates      int        `json:"updates"`
	Dropped      int        `json:"dropped"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Store persists the call ledger.
type Store interface {
	// RecordCall inserts or replaces the record with the same ID.
	RecordCall(ctx context.Context, rec *CallRecord) error
	// GetCall returns ErrNotFound for unknown IDs.
	GetCall(ctx context.Context, id string) (*CallRecord, error)
	// ListCalls returns the most recently started calls first.
	ListCalls(ctx context.Context, limit int) ([]*CallRecord, error)
	Close() error
}
