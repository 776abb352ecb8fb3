package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operation names recorded in the operation log
const (
	OperationCollectFace    = "face.collect"
	OperationRecollectFace  = "face.recollect"
	OperationDeleteFace     = "face.delete"
	OperationExpireProfiles = "face.expire_sweep"
)

// OperationStatus is the lifecycle state of an operation log entry
type OperationStatus string

const (
	OperationPending    OperationStatus = "PENDING"
	OperationProcessing OperationStatus = "PROCESSING"
	OperationCompleted  OperationStatus = "COMPLETED"
	OperationFailed     OperationStatus = "FAILED"
	OperationCancelled  OperationStatus = "CANCELLED"
)

// ParseOperationStatus converts a stored value into an OperationStatus
func ParseOperationStatus(s string) (OperationStatus, error) {
	switch OperationStatus(s) {
	case OperationPending, OperationProcessing, OperationCompleted, OperationFailed, OperationCancelled:
		return OperationStatus(s), nil
	}
	return "", fmt.Errorf("unknown operation status %q", s)
}

// IsTerminal reports whether no further transition is possible
func (s OperationStatus) IsTerminal() bool {
	switch s {
	case OperationCompleted, OperationFailed, OperationCancelled:
		return true
	case OperationPending, OperationProcessing:
		return false
	}
	return false
}

// CanTransitionTo reports whether s → next is a legal move
func (s OperationStatus) CanTransitionTo(next OperationStatus) bool {
	switch s {
	case OperationPending:
		return next == OperationProcessing || next == OperationFailed || next == OperationCancelled
	case OperationProcessing:
		return next == OperationCompleted || next == OperationFailed || next == OperationCancelled
	case OperationCompleted, OperationFailed, OperationCancelled:
		return false
	}
	return false
}

// OperationLog records one administrative or provider-facing operation
type OperationLog struct {
	ID            uuid.UUID         `db:"id" json:"id"`
	Operation     string            `db:"operation" json:"operation"`
	UserID        *string           `db:"user_id" json:"user_id,omitempty"`
	Status        OperationStatus   `db:"status" json:"status"`
	FailureReason *string           `db:"failure_reason" json:"failure_reason,omitempty"`
	Metadata      OperationMetadata `db:"metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
	CompletedAt   *time.Time        `db:"completed_at" json:"completed_at,omitempty"`
}

// OperationMetadata holds additional context for an operation
type OperationMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (om *OperationMetadata) Scan(value interface{}) error {
	if value == nil {
		*om = make(OperationMetadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*om = OperationMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (om OperationMetadata) Value() (driver.Value, error) {
	if om == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(om))
}
