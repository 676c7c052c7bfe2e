package model

import (
	"time"

	"github.com/google/uuid"
)

// Patient extends a patient Profile; ID equals the profile id.
type Patient struct {
	Base
	DateOfBirth         *time.Time `json:"date_of_birth,omitempty" db:"date_of_birth"`
	MedicalRecordNumber *string    `json:"medical_record_number,omitempty" db:"medical_record_number"`
	EmergencyContact    *string    `json:"emergency_contact,omitempty" db:"emergency_contact"`
}

// PatientSummary is a directory entry for the prescription patient picker.
type PatientSummary struct {
	ID                  uuid.UUID `json:"id"`
	FullName            string    `json:"full_name"`
	Email               string    `json:"email"`
	DateOfBirth         *string   `json:"date_of_birth,omitempty"`
	MedicalRecordNumber *string   `json:"medical_record_number,omitempty"`
}

const DateLayout = "2006-01-02"

func FormatDate(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := t.Format(DateLayout)
	return &s
}
