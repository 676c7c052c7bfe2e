package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PrescriptionStatus string

const (
	PrescriptionStatusActive    PrescriptionStatus = "active"
	PrescriptionStatusCancelled PrescriptionStatus = "cancelled"
	PrescriptionStatusCompleted PrescriptionStatus = "completed"
)

// Valid reports enum membership only; any status may follow any other.
func (s PrescriptionStatus) Valid() bool {
	switch s {
	case PrescriptionStatusActive, PrescriptionStatusCancelled, PrescriptionStatusCompleted:
		return true
	}
	return false
}

// Medication is one prescribed regimen, embedded in a Prescription.
type Medication struct {
	Name         string `json:"name" validate:"required"`
	Dosage       string `json:"dosage" validate:"required"`
	Frequency    string `json:"frequency" validate:"required"`
	Duration     string `json:"duration" validate:"required"`
	Instructions string `json:"instructions,omitempty"`
}

// Medications is stored as a jsonb array; order is significant.
type Medications []Medication

func (m Medications) Value() (driver.Value, error) {
	if m == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m)
}

func (m *Medications) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = Medications{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported medications column type %T", src)
	}
	var out Medications
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to unmarshal medications: %w", err)
	}
	if out == nil {
		out = Medications{}
	}
	*m = out
	return nil
}

// Clone returns an independent copy.
func (m Medications) Clone() Medications {
	if m == nil {
		return nil
	}
	out := make(Medications, len(m))
	copy(out, m)
	return out
}

type Prescription struct {
	Base
	DoctorID    uuid.UUID          `json:"doctor_id" db:"doctor_id"`
	PatientID   uuid.UUID          `json:"patient_id" db:"patient_id"`
	DateIssued  *time.Time         `json:"date_issued" db:"date_issued"`
	Diagnosis   string             `json:"diagnosis" db:"diagnosis"`
	Medications Medications        `json:"medications" db:"medications"`
	Notes       *string            `json:"notes,omitempty" db:"notes"`
	PDFURL      *string            `json:"pdf_url,omitempty" db:"pdf_url"`
	Status      PrescriptionStatus `json:"status" db:"status"`
}

// PrescriptionRequest is the authoring payload for create and update.
type PrescriptionRequest struct {
	PatientID   uuid.UUID           `json:"patient_id"`
	Diagnosis   string              `json:"diagnosis"`
	Medications []Medication        `json:"medications"`
	Notes       *string             `json:"notes"`
	Status      *PrescriptionStatus `json:"status"`
}

// PrescriptionStats counts an assembled list by status.
type PrescriptionStats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
}
