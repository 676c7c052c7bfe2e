package prescription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/rx-api/internal/model"
	apperrors "github.com/jwalitptl/rx-api/pkg/errors"
)

// Draft is an in-memory authoring session. Nothing is persisted until it is
// submitted.
type Draft struct {
	ID             uuid.UUID                 `json:"id"`
	OwnerID        uuid.UUID                 `json:"-"`
	PrescriptionID *uuid.UUID                `json:"prescription_id,omitempty"`
	PatientID      uuid.UUID                 `json:"patient_id"`
	Diagnosis      string                    `json:"diagnosis"`
	Medications    []model.Medication        `json:"medications"`
	Notes          string                    `json:"notes"`
	Status         *model.PrescriptionStatus `json:"status,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

func (d *Draft) clone() *Draft {
	c := *d
	c.Medications = model.Medications(d.Medications).Clone()
	if c.Medications == nil {
		c.Medications = []model.Medication{}
	}
	if d.PrescriptionID != nil {
		id := *d.PrescriptionID
		c.PrescriptionID = &id
	}
	if d.Status != nil {
		s := *d.Status
		c.Status = &s
	}
	return &c
}

func (d *Draft) AddMedication(m model.Medication) {
	d.Medications = append(d.Medications, m)
}

func (d *Draft) UpdateMedication(index int, m model.Medication) error {
	if index < 0 || index >= len(d.Medications) {
		return apperrors.NewValidation(fmt.Sprintf("medication index %d out of range", index))
	}
	d.Medications[index] = m
	return nil
}

func (d *Draft) RemoveMedication(index int) error {
	if index < 0 || index >= len(d.Medications) {
		return apperrors.NewValidation(fmt.Sprintf("medication index %d out of range", index))
	}
	d.Medications = append(d.Medications[:index], d.Medications[index+1:]...)
	return nil
}

func (d *Draft) SetPatient(id uuid.UUID) { d.PatientID = id }

func (d *Draft) SetDiagnosis(diagnosis string) { d.Diagnosis = diagnosis }

func (d *Draft) SetNotes(notes string) { d.Notes = notes }

func (d *Draft) SetStatus(status model.PrescriptionStatus) error {
	if !status.Valid() {
		return apperrors.NewValidation("status must be one of: active cancelled completed")
	}
	d.Status = &status
	return nil
}

// Request converts the draft into an authoring payload.
func (d *Draft) Request() *model.PrescriptionRequest {
	notes := d.Notes
	return &model.PrescriptionRequest{
		PatientID:   d.PatientID,
		Diagnosis:   d.Diagnosis,
		Medications: model.Medications(d.Medications).Clone(),
		Notes:       &notes,
		Status:      d.Status,
	}
}

// Drafts keeps drafts in a go-cache keyed by id. Every draft belongs to the
// doctor who opened it; any other identity gets NotFound.
type Drafts struct {
	mu        sync.Mutex
	cache     *cache.Cache
	ttl       time.Duration
	authoring *Authoring
	assembler *Assembler
	now       func() time.Time
}

func NewDrafts(authoring *Authoring, assembler *Assembler, ttl, cleanup time.Duration, opts ...Option) *Drafts {
	o := newOptions(opts)
	return &Drafts{
		cache:     cache.New(ttl, cleanup),
		ttl:       ttl,
		authoring: authoring,
		assembler: assembler,
		now:       o.now,
	}
}

// Open starts a draft. With a prescription id the draft is seeded from that
// prescription's current view and submits as an update.
func (s *Drafts) Open(ctx context.Context, identity *model.Identity, prescriptionID *uuid.UUID) (*Draft, error) {
	if err := authorize(identity); err != nil {
		return nil, err
	}

	now := s.now()
	d := &Draft{
		ID:          uuid.New(),
		OwnerID:     identity.UserID,
		Medications: []model.Medication{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if prescriptionID != nil {
		view, err := s.assembler.Get(ctx, identity, *prescriptionID)
		if err != nil {
			return nil, err
		}
		id := view.ID
		status := view.Status
		d.PrescriptionID = &id
		d.PatientID = view.PatientID
		d.Diagnosis = view.Diagnosis
		d.Medications = view.Medications.Clone()
		d.Status = &status
		if view.Notes != nil {
			d.Notes = *view.Notes
		}
	}

	s.cache.Set(d.ID.String(), d, s.ttl)
	return d.clone(), nil
}

func (s *Drafts) lookup(identity *model.Identity, id uuid.UUID) (*Draft, error) {
	if !identity.Valid() {
		return nil, apperrors.NewUnauthenticated("")
	}
	v, ok := s.cache.Get(id.String())
	if !ok {
		return nil, apperrors.NewNotFound("draft", nil)
	}
	d := v.(*Draft)
	if d.OwnerID != identity.UserID {
		return nil, apperrors.NewNotFound("draft", nil)
	}
	return d, nil
}

func (s *Drafts) Get(identity *model.Identity, id uuid.UUID) (*Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.lookup(identity, id)
	if err != nil {
		return nil, err
	}
	return d.clone(), nil
}

// Edit applies fn to a copy of the draft and keeps the copy only when fn
// succeeds. A successful edit restarts the TTL.
func (s *Drafts) Edit(identity *model.Identity, id uuid.UUID, fn func(*Draft) error) (*Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.lookup(identity, id)
	if err != nil {
		return nil, err
	}
	next := d.clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = s.now()
	s.cache.Set(id.String(), next, s.ttl)
	return next.clone(), nil
}

// Submit runs the draft through Create or Update. The draft is dropped only
// when the write succeeds.
func (s *Drafts) Submit(ctx context.Context, identity *model.Identity, id uuid.UUID) (*model.Prescription, error) {
	d, err := s.Get(identity, id)
	if err != nil {
		return nil, err
	}

	var p *model.Prescription
	if d.PrescriptionID != nil {
		p, err = s.authoring.Update(ctx, identity, *d.PrescriptionID, d.Request())
	} else {
		p, err = s.authoring.Create(ctx, identity, d.Request())
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache.Delete(id.String())
	s.mu.Unlock()
	return p, nil
}

// Discard drops the draft without touching any stored prescription.
func (s *Drafts) Discard(identity *model.Identity, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookup(identity, id); err != nil {
		return err
	}
	s.cache.Delete(id.String())
	return nil
}
