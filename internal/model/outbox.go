package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus moves pending -> processing -> processed. A failed delivery
// goes to retry until RetryAt, or to failed once the worker gives up.
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusProcessed  OutboxStatus = "processed"
	OutboxStatusRetry      OutboxStatus = "retry"
	OutboxStatusFailed     OutboxStatus = "failed"
)

const (
	EventPrescriptionCreated = "prescription.created"
	EventPrescriptionUpdated = "prescription.updated"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// PrescriptionEvent tells subscribers to refresh their assembled lists.
type PrescriptionEvent struct {
	PrescriptionID uuid.UUID          `json:"prescription_id"`
	DoctorID       uuid.UUID          `json:"doctor_id"`
	PatientID      uuid.UUID          `json:"patient_id"`
	Status         PrescriptionStatus `json:"status"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

// NewPrescriptionEvent builds a pending outbox row for p.
func NewPrescriptionEvent(eventType string, p *Prescription, now time.Time) (*OutboxEvent, error) {
	payload, err := json.Marshal(PrescriptionEvent{
		PrescriptionID: p.ID,
		DoctorID:       p.DoctorID,
		PatientID:      p.PatientID,
		Status:         p.Status,
		OccurredAt:     now.UTC(),
	})
	if err != nil {
		return nil, err
	}
	return &OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   payload,
		Status:    OutboxStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
