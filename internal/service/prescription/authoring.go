package prescription

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jwalitptl/rx-api/internal/model"
	apperrors "github.com/jwalitptl/rx-api/pkg/errors"
	"github.com/jwalitptl/rx-api/pkg/validator"
)

// Authoring validates and writes prescriptions for doctor identities.
type Authoring struct {
	store     Store
	validator validator.Validator
	opts      options
}

func NewAuthoring(store Store, opts ...Option) *Authoring {
	return &Authoring{
		store:     store,
		validator: validator.New(),
		opts:      newOptions(opts),
	}
}

func authorize(identity *model.Identity) error {
	if !identity.Valid() {
		return apperrors.NewUnauthenticated("")
	}
	if !identity.IsDoctor() {
		return apperrors.NewForbidden("only doctors can author prescriptions")
	}
	return nil
}

// Validate checks req in the order a submitter fixes things: the medication
// list, each medication, the diagnosis, then the patient.
func (s *Authoring) Validate(req *model.PrescriptionRequest, requirePatient bool) error {
	if req == nil {
		return apperrors.NewValidation("request body is required")
	}
	if len(req.Medications) == 0 {
		return apperrors.NewValidation("at least one medication is required")
	}
	for i := range req.Medications {
		if err := s.validator.Validate(trimmedMedication(req.Medications[i])); err != nil {
			return apperrors.NewValidation(fmt.Sprintf("medication %d: %s", i+1, err.Error()))
		}
	}
	if strings.TrimSpace(req.Diagnosis) == "" {
		return apperrors.NewValidation("diagnosis is required")
	}
	if requirePatient && req.PatientID == uuid.Nil {
		return apperrors.NewValidation("patient_id is required")
	}
	if req.Status != nil && !req.Status.Valid() {
		return apperrors.NewValidation("status must be one of: active cancelled completed")
	}
	return nil
}

// whitespace-only fields count as empty
func trimmedMedication(m model.Medication) model.Medication {
	m.Name = strings.TrimSpace(m.Name)
	m.Dosage = strings.TrimSpace(m.Dosage)
	m.Frequency = strings.TrimSpace(m.Frequency)
	m.Duration = strings.TrimSpace(m.Duration)
	return m
}

// Create writes a new prescription authored by the caller. doctor_id is
// always the caller's id, whatever the request says.
func (s *Authoring) Create(ctx context.Context, identity *model.Identity, req *model.PrescriptionRequest) (*model.Prescription, error) {
	p, err := s.create(ctx, identity, req)
	s.opts.metrics.ObserveAuthoring("create", err)
	return p, err
}

func (s *Authoring) create(ctx context.Context, identity *model.Identity, req *model.PrescriptionRequest) (*model.Prescription, error) {
	if err := authorize(identity); err != nil {
		return nil, err
	}
	if err := s.Validate(req, true); err != nil {
		return nil, err
	}

	p := &model.Prescription{
		Base:        model.Base{ID: uuid.New()},
		DoctorID:    identity.UserID,
		PatientID:   req.PatientID,
		Diagnosis:   req.Diagnosis,
		Medications: model.Medications(req.Medications).Clone(),
		Notes:       normalizeNotes(req.Notes),
		Status:      model.PrescriptionStatusActive,
	}
	if req.Status != nil {
		p.Status = *req.Status
	}

	if err := s.store.CreatePrescription(ctx, identity, p); err != nil {
		s.opts.log.Error(err, "failed to create prescription", "doctor_id", identity.UserID.String())
		return nil, writeError(err)
	}
	return p, nil
}

// Update overwrites diagnosis, medications and notes, and status when the
// request carries one. Empty notes clear the stored notes.
func (s *Authoring) Update(ctx context.Context, identity *model.Identity, id uuid.UUID, req *model.PrescriptionRequest) (*model.Prescription, error) {
	p, err := s.update(ctx, identity, id, req)
	s.opts.metrics.ObserveAuthoring("update", err)
	return p, err
}

func (s *Authoring) update(ctx context.Context, identity *model.Identity, id uuid.UUID, req *model.PrescriptionRequest) (*model.Prescription, error) {
	if err := authorize(identity); err != nil {
		return nil, err
	}
	if err := s.Validate(req, false); err != nil {
		return nil, err
	}

	p := &model.Prescription{
		Base:        model.Base{ID: id},
		Diagnosis:   req.Diagnosis,
		Medications: model.Medications(req.Medications).Clone(),
		Notes:       normalizeNotes(req.Notes),
	}
	if req.Status != nil {
		p.Status = *req.Status
	}

	if err := s.store.UpdatePrescription(ctx, identity, p); err != nil {
		s.opts.log.Error(err, "failed to update prescription", "prescription_id", id.String())
		return nil, writeError(err)
	}
	return p, nil
}

func normalizeNotes(notes *string) *string {
	if notes == nil || strings.TrimSpace(*notes) == "" {
		return nil
	}
	n := *notes
	return &n
}
