// Package memory is an in-process record store. It applies the same
// row-level visibility rules as the PostgreSQL policies and backs the
// development mode and the service tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/rx-api/internal/model"
	"github.com/jwalitptl/rx-api/internal/repository"
	apperrors "github.com/jwalitptl/rx-api/pkg/errors"
)

type Store struct {
	mu sync.RWMutex

	profiles      []*model.Profile
	doctors       []*model.Doctor
	patients      []*model.Patient
	prescriptions []*model.Prescription
	credentials   []*model.Credential
	events        []*model.OutboxEvent

	failures map[string]error
	now      func() time.Time
}

type Option func(*Store)

// WithClock sets the clock used for store-assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		failures: make(map[string]error),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ repository.RecordStore = (*Store)(nil)
var _ repository.OutboxRepository = (*Store)(nil)

// FailOn makes the named operation (the method name) return err until cleared
// with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) failure(op string) error {
	return s.failures[op]
}

// Seed helpers insert rows as-is, bypassing policy. Duplicates and NULL
// timestamps are allowed so callers can model inconsistent data.

func (s *Store) SeedProfile(p *model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	s.profiles = append(s.profiles, &c)
}

func (s *Store) SeedDoctor(d *model.Doctor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *d
	s.doctors = append(s.doctors, &c)
}

func (s *Store) SeedPatient(p *model.Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	s.patients = append(s.patients, &c)
}

func (s *Store) SeedPrescription(p *model.Prescription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prescriptions = append(s.prescriptions, clonePrescription(p))
}

// DeleteProfile removes a profile row, leaving dangling references behind.
func (s *Store) DeleteProfile(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.profiles[:0]
	for _, p := range s.profiles {
		if p.ID != id {
			out = append(out, p)
		}
	}
	s.profiles = out
}

// Events returns a copy of the outbox rows.
func (s *Store) Events() []*model.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.OutboxEvent, 0, len(s.events))
	for _, e := range s.events {
		c := *e
		out = append(out, &c)
	}
	return out
}

// PrescriptionCount counts every row regardless of policy.
func (s *Store) PrescriptionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.prescriptions)
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) ListProfiles(ctx context.Context, identity *model.Identity) ([]*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("ListProfiles"); err != nil {
		return nil, err
	}
	if !identity.Valid() {
		return nil, errPolicy
	}

	out := make([]*model.Profile, 0)
	for _, p := range s.profiles {
		if s.profileVisible(identity, p.ID, p.Role) {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) GetProfile(ctx context.Context, identity *model.Identity, id uuid.UUID) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("GetProfile"); err != nil {
		return nil, err
	}
	if !identity.Valid() {
		return nil, errPolicy
	}
	for _, p := range s.profiles {
		if p.ID == id && s.profileVisible(identity, p.ID, p.Role) {
			c := *p
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) ListDoctors(ctx context.Context, identity *model.Identity) ([]*model.Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("ListDoctors"); err != nil {
		return nil, err
	}
	if !identity.Valid() {
		return nil, errPolicy
	}

	out := make([]*model.Doctor, 0)
	for _, d := range s.doctors {
		if s.profileVisible(identity, d.ID, model.RoleDoctor) {
			c := *d
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) ListPatients(ctx context.Context, identity *model.Identity) ([]*model.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("ListPatients"); err != nil {
		return nil, err
	}
	if !identity.Valid() {
		return nil, errPolicy
	}

	out := make([]*model.Patient, 0)
	for _, p := range s.patients {
		if s.profileVisible(identity, p.ID, model.RolePatient) {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) ListPrescriptions(ctx context.Context, identity *model.Identity) ([]*model.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("ListPrescriptions"); err != nil {
		return nil, err
	}
	if !identity.Valid() {
		return nil, errPolicy
	}

	out := make([]*model.Prescription, 0)
	for _, p := range s.prescriptions {
		if prescriptionVisible(identity, p) {
			out = append(out, clonePrescription(p))
		}
	}
	// ORDER BY created_at DESC, NULLs first as in PostgreSQL.
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].CreatedAt, out[j].CreatedAt
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.After(*b)
		}
	})
	return out, nil
}

func (s *Store) GetPrescription(ctx context.Context, identity *model.Identity, id uuid.UUID) (*model.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("GetPrescription"); err != nil {
		return nil, err
	}
	if !identity.Valid() {
		return nil, errPolicy
	}
	for _, p := range s.prescriptions {
		if p.ID == id && prescriptionVisible(identity, p) {
			return clonePrescription(p), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) CreatePrescription(ctx context.Context, identity *model.Identity, p *model.Prescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("CreatePrescription"); err != nil {
		return err
	}
	if !identity.Valid() || identity.Role != model.RoleDoctor || p.DoctorID != identity.UserID {
		return errPolicy
	}
	if !s.hasPatient(p.PatientID) {
		return apperrors.NewValidation("patient does not exist")
	}
	if !s.hasDoctor(p.DoctorID) {
		return apperrors.NewValidation("doctor does not exist")
	}

	now := s.now()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	issued, created, updated := now, now, now
	p.DateIssued, p.CreatedAt, p.UpdatedAt = &issued, &created, &updated
	if p.Status == "" {
		p.Status = model.PrescriptionStatusActive
	}
	event, err := model.NewPrescriptionEvent(model.EventPrescriptionCreated, p, now)
	if err != nil {
		return apperrors.NewStoreFailure(err)
	}
	s.prescriptions = append(s.prescriptions, clonePrescription(p))
	s.events = append(s.events, event)
	return nil
}

func (s *Store) UpdatePrescription(ctx context.Context, identity *model.Identity, p *model.Prescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UpdatePrescription"); err != nil {
		return err
	}
	if !identity.Valid() {
		return errPolicy
	}

	for _, row := range s.prescriptions {
		// The update policy only matches rows the caller authored.
		if row.ID != p.ID || row.DoctorID != identity.UserID {
			continue
		}
		row.Diagnosis = p.Diagnosis
		row.Medications = p.Medications.Clone()
		row.Notes = p.Notes
		if p.Status != "" {
			row.Status = p.Status
		}
		now := s.now()
		event, err := model.NewPrescriptionEvent(model.EventPrescriptionUpdated, row, now)
		if err != nil {
			return apperrors.NewStoreFailure(err)
		}
		updated := now
		row.UpdatedAt = &updated
		*p = *clonePrescription(row)
		s.events = append(s.events, event)
		return nil
	}
	return repository.ErrNotFound
}

func (s *Store) CreateAccount(ctx context.Context, profile *model.Profile, doctor *model.Doctor, patient *model.Patient, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("CreateAccount"); err != nil {
		return err
	}
	for _, c := range s.credentials {
		if strings.EqualFold(c.Email, profile.Email) {
			return model.ErrEmailTaken
		}
	}

	now := s.now()
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	created, updated := now, now
	profile.CreatedAt, profile.UpdatedAt = &created, &updated
	pc := *profile
	s.profiles = append(s.profiles, &pc)

	switch {
	case doctor != nil:
		doctor.ID, doctor.CreatedAt, doctor.UpdatedAt = profile.ID, &created, &updated
		dc := *doctor
		s.doctors = append(s.doctors, &dc)
	case patient != nil:
		patient.ID, patient.CreatedAt, patient.UpdatedAt = profile.ID, &created, &updated
		ptc := *patient
		s.patients = append(s.patients, &ptc)
	}

	s.credentials = append(s.credentials, &model.Credential{
		ProfileID:    profile.ID,
		Email:        strings.ToLower(profile.Email),
		PasswordHash: passwordHash,
		Role:         profile.Role,
		CreatedAt:    now,
	})
	return nil
}

func (s *Store) GetCredentialByEmail(ctx context.Context, email string) (*model.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("GetCredentialByEmail"); err != nil {
		return nil, err
	}
	for _, c := range s.credentials {
		if strings.EqualFold(c.Email, email) {
			cc := *c
			return &cc, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) ClaimPendingEvents(ctx context.Context, limit int, staleAfter time.Duration) ([]*model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ClaimPendingEvents"); err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]*model.OutboxEvent, 0, limit)
	for _, e := range s.events {
		if len(out) == limit {
			break
		}
		if eventDue(e, now, staleAfter) {
			e.Status = model.OutboxStatusProcessing
			e.RetryAt = nil
			e.UpdatedAt = now
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

// eventDue mirrors the claim predicate of the SQL outbox.
func eventDue(e *model.OutboxEvent, now time.Time, staleAfter time.Duration) bool {
	switch e.Status {
	case model.OutboxStatusPending:
		return true
	case model.OutboxStatusRetry:
		return e.RetryAt != nil && !e.RetryAt.After(now)
	case model.OutboxStatusProcessing:
		return e.UpdatedAt.Before(now.Add(-staleAfter))
	}
	return false
}

func (s *Store) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return s.markEvent(id, func(e *model.OutboxEvent, now time.Time) {
		e.Status = model.OutboxStatusProcessed
		e.ProcessedAt = &now
		e.ErrorMessage = nil
	})
}

func (s *Store) MarkRetry(ctx context.Context, id uuid.UUID, reason string, retryAt time.Time) error {
	return s.markEvent(id, func(e *model.OutboxEvent, now time.Time) {
		e.Status = model.OutboxStatusRetry
		e.RetryCount++
		e.ErrorMessage = &reason
		e.RetryAt = &retryAt
	})
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.markEvent(id, func(e *model.OutboxEvent, now time.Time) {
		e.Status = model.OutboxStatusFailed
		e.RetryCount++
		e.ErrorMessage = &reason
		e.RetryAt = nil
	})
}

func (s *Store) markEvent(id uuid.UUID, fn func(*model.OutboxEvent, time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.ID == id {
			now := s.now()
			fn(e, now)
			e.UpdatedAt = now
			return nil
		}
	}
	return repository.ErrNotFound
}

// profileVisible mirrors the profiles/doctors/patients SELECT policies.
func (s *Store) profileVisible(identity *model.Identity, id uuid.UUID, role model.Role) bool {
	if id == identity.UserID {
		return true
	}
	if identity.Role == model.RoleDoctor && role == model.RolePatient {
		return true
	}
	for _, p := range s.prescriptions {
		if p.DoctorID == identity.UserID && p.PatientID == id {
			return true
		}
		if p.PatientID == identity.UserID && p.DoctorID == id {
			return true
		}
	}
	return false
}

func (s *Store) hasPatient(id uuid.UUID) bool {
	for _, p := range s.patients {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (s *Store) hasDoctor(id uuid.UUID) bool {
	for _, d := range s.doctors {
		if d.ID == id {
			return true
		}
	}
	return false
}

func prescriptionVisible(identity *model.Identity, p *model.Prescription) bool {
	return p.DoctorID == identity.UserID || p.PatientID == identity.UserID
}

func clonePrescription(p *model.Prescription) *model.Prescription {
	c := *p
	c.Medications = p.Medications.Clone()
	return &c
}

var errPolicy = apperrors.NewForbidden("operation violates row-level security policy")
