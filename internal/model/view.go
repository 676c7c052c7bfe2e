package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	UnknownDoctor  = "Unknown Doctor"
	UnknownPatient = "Unknown Patient"
)

type ProfileView struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Phone     *string   `json:"phone,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
}

type DoctorView struct {
	ID             uuid.UUID   `json:"id"`
	Specialization string      `json:"specialization"`
	LicenseNumber  *string     `json:"license_number,omitempty"`
	CreatedAt      string      `json:"created_at"`
	UpdatedAt      string      `json:"updated_at"`
	Profile        ProfileView `json:"profiles"`
}

type PatientView struct {
	ID                  uuid.UUID   `json:"id"`
	DateOfBirth         *string     `json:"date_of_birth,omitempty"`
	MedicalRecordNumber *string     `json:"medical_record_number,omitempty"`
	EmergencyContact    *string     `json:"emergency_contact,omitempty"`
	CreatedAt           string      `json:"created_at"`
	UpdatedAt           string      `json:"updated_at"`
	Profile             ProfileView `json:"profiles"`
}

// PrescriptionView is the read model handed to clients and the renderer.
// At most one of Doctor and Patient is set, depending on the caller's role.
type PrescriptionView struct {
	ID          uuid.UUID          `json:"id"`
	DoctorID    uuid.UUID          `json:"doctor_id"`
	PatientID   uuid.UUID          `json:"patient_id"`
	DateIssued  string             `json:"date_issued"`
	Diagnosis   string             `json:"diagnosis"`
	Medications Medications        `json:"medications"`
	Notes       *string            `json:"notes,omitempty"`
	PDFURL      *string            `json:"pdf_url,omitempty"`
	Status      PrescriptionStatus `json:"status"`
	CreatedAt   string             `json:"created_at"`
	UpdatedAt   string             `json:"updated_at"`
	Doctor      *DoctorView        `json:"doctor,omitempty"`
	Patient     *PatientView       `json:"patient,omitempty"`

	// Summary labels for list rows.
	DoctorLabel  string `json:"doctor_name"`
	PatientLabel string `json:"patient_name"`
}

func NewProfileView(p *Profile, now time.Time) ProfileView {
	return ProfileView{
		ID:        p.ID,
		Email:     p.Email,
		FullName:  p.FullName,
		Phone:     p.Phone,
		Role:      p.Role,
		CreatedAt: ISOTime(p.CreatedAt, now),
		UpdatedAt: ISOTime(p.UpdatedAt, now),
	}
}

func NewDoctorView(d *Doctor, p *Profile, now time.Time) *DoctorView {
	return &DoctorView{
		ID:             d.ID,
		Specialization: d.Specialization,
		LicenseNumber:  d.LicenseNumber,
		CreatedAt:      ISOTime(d.CreatedAt, now),
		UpdatedAt:      ISOTime(d.UpdatedAt, now),
		Profile:        NewProfileView(p, now),
	}
}

func NewPatientView(pt *Patient, p *Profile, now time.Time) *PatientView {
	return &PatientView{
		ID:                  pt.ID,
		DateOfBirth:         FormatDate(pt.DateOfBirth),
		MedicalRecordNumber: pt.MedicalRecordNumber,
		EmergencyContact:    pt.EmergencyContact,
		CreatedAt:           ISOTime(pt.CreatedAt, now),
		UpdatedAt:           ISOTime(pt.UpdatedAt, now),
		Profile:             NewProfileView(p, now),
	}
}

// NewPrescriptionView copies the row fields; relations are attached by the caller.
func NewPrescriptionView(p *Prescription, now time.Time) *PrescriptionView {
	meds := p.Medications.Clone()
	if meds == nil {
		meds = Medications{}
	}
	return &PrescriptionView{
		ID:          p.ID,
		DoctorID:    p.DoctorID,
		PatientID:   p.PatientID,
		DateIssued:  ISOTime(p.DateIssued, now),
		Diagnosis:   p.Diagnosis,
		Medications: meds,
		Notes:       p.Notes,
		PDFURL:      p.PDFURL,
		Status:      p.Status,
		CreatedAt:   ISOTime(p.CreatedAt, now),
		UpdatedAt:   ISOTime(p.UpdatedAt, now),
	}
}

// Label fills DoctorLabel and PatientLabel from the attached relations.
func (v *PrescriptionView) Label() {
	v.DoctorLabel = v.DoctorName()
	v.PatientLabel = v.PatientName()
}

func (v *PrescriptionView) DoctorName() string {
	if v.Doctor == nil || v.Doctor.Profile.FullName == "" {
		return UnknownDoctor
	}
	return v.Doctor.Profile.FullName
}

func (v *PrescriptionView) PatientName() string {
	if v.Patient == nil || v.Patient.Profile.FullName == "" {
		return UnknownPatient
	}
	return v.Patient.Profile.FullName
}

// Clone returns a deep copy so consumers can't alter the assembled view.
func (v *PrescriptionView) Clone() *PrescriptionView {
	if v == nil {
		return nil
	}
	out := *v
	out.Medications = v.Medications.Clone()
	out.Notes = cloneString(v.Notes)
	out.PDFURL = cloneString(v.PDFURL)
	if v.Doctor != nil {
		d := *v.Doctor
		d.LicenseNumber = cloneString(v.Doctor.LicenseNumber)
		d.Profile.Phone = cloneString(v.Doctor.Profile.Phone)
		out.Doctor = &d
	}
	if v.Patient != nil {
		p := *v.Patient
		p.DateOfBirth = cloneString(v.Patient.DateOfBirth)
		p.MedicalRecordNumber = cloneString(v.Patient.MedicalRecordNumber)
		p.EmergencyContact = cloneString(v.Patient.EmergencyContact)
		p.Profile.Phone = cloneString(v.Patient.Profile.Phone)
		out.Patient = &p
	}
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
