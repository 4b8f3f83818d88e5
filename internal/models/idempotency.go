package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IdempotencyStatus is the state of a guarded request.
type IdempotencyStatus string

const (
	IdempotencyInProgress IdempotencyStatus = "IN_PROGRESS"
	IdempotencyCompleted  IdempotencyStatus = "COMPLETED"
	IdempotencyFailed     IdempotencyStatus = "FAILED"
)

// IdempotencyRecord tracks one logical request identified by (Key, Scope, UserID).
type IdempotencyRecord struct {
	Key                string            `json:"key"`
	Scope              string            `json:"scope"`
	UserID             uuid.UUID         `json:"user_id"`
	PayloadFingerprint string            `json:"payload_fingerprint"`
	Status             IdempotencyStatus `json:"status"`
	StoredResult       json.RawMessage   `json:"stored_result,omitempty"`
	ErrorMessage       string            `json:"error_message,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	ExpiresAt          time.Time         `json:"expires_at"`
}
