package prescription

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/rx-api/internal/model"
	"github.com/jwalitptl/rx-api/internal/repository"
	apperrors "github.com/jwalitptl/rx-api/pkg/errors"
)

// Assembler builds PrescriptionViews for the calling identity. It never
// filters rows itself: whatever the store's policy returns is what the
// caller gets.
type Assembler struct {
	store Store
	opts  options
}

func NewAssembler(store Store, opts ...Option) *Assembler {
	return &Assembler{store: store, opts: newOptions(opts)}
}

// Assemble returns every visible prescription joined with the counterparty,
// newest first. Any fetch failure fails the whole call.
func (a *Assembler) Assemble(ctx context.Context, identity *model.Identity) ([]*model.PrescriptionView, error) {
	views, err := a.assemble(ctx, identity)
	if identity.Valid() {
		a.opts.metrics.ObserveAssembly(string(identity.Role), err)
	}
	if err != nil {
		return nil, err
	}
	return views, nil
}

func (a *Assembler) assemble(ctx context.Context, identity *model.Identity) ([]*model.PrescriptionView, error) {
	if !identity.Valid() {
		return nil, apperrors.NewUnauthenticated("")
	}

	rows, err := a.store.ListPrescriptions(ctx, identity)
	if err != nil {
		return nil, storeFailure(err)
	}

	now := a.opts.now()
	j, err := a.joiner(ctx, identity, now)
	if err != nil {
		return nil, err
	}

	type keyed struct {
		view    *model.PrescriptionView
		created time.Time
	}
	out := make([]keyed, 0, len(rows))
	for _, row := range rows {
		created := now
		if row.CreatedAt != nil && !row.CreatedAt.IsZero() {
			created = *row.CreatedAt
		}
		out = append(out, keyed{view: j.attach(row), created: created})
	}
	sort.SliceStable(out, func(i, k int) bool {
		return out[i].created.After(out[k].created)
	})

	views := make([]*model.PrescriptionView, len(out))
	for i, k := range out {
		views[i] = k.view
	}
	return views, nil
}

// Get assembles a single prescription. A row hidden by policy is NotFound.
func (a *Assembler) Get(ctx context.Context, identity *model.Identity, id uuid.UUID) (*model.PrescriptionView, error) {
	if !identity.Valid() {
		return nil, apperrors.NewUnauthenticated("")
	}

	row, err := a.store.GetPrescription(ctx, identity, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("prescription", err)
	}
	if err != nil {
		return nil, storeFailure(err)
	}

	j, err := a.joiner(ctx, identity, a.opts.now())
	if err != nil {
		return nil, err
	}
	return j.attach(row), nil
}

// Stats counts the assembled list by status.
func (a *Assembler) Stats(ctx context.Context, identity *model.Identity) (*model.PrescriptionStats, error) {
	views, err := a.Assemble(ctx, identity)
	if err != nil {
		return nil, err
	}
	stats := &model.PrescriptionStats{Total: len(views)}
	for _, v := range views {
		switch v.Status {
		case model.PrescriptionStatusActive:
			stats.Active++
		case model.PrescriptionStatusCompleted:
			stats.Completed++
		case model.PrescriptionStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

// Patients lists the patients a doctor can prescribe for. Patients without
// a visible profile are left out; the result is ordered by name.
func (a *Assembler) Patients(ctx context.Context, identity *model.Identity) ([]*model.PatientSummary, error) {
	if !identity.Valid() {
		return nil, apperrors.NewUnauthenticated("")
	}
	if !identity.IsDoctor() {
		return nil, apperrors.NewForbidden("only doctors can browse patients")
	}

	patients, err := a.store.ListPatients(ctx, identity)
	if err != nil {
		return nil, storeFailure(err)
	}
	profiles, err := a.store.ListProfiles(ctx, identity)
	if err != nil {
		return nil, storeFailure(err)
	}
	byID := model.ProfileIndex(profiles)

	seen := make(map[uuid.UUID]bool, len(patients))
	out := make([]*model.PatientSummary, 0, len(patients))
	for _, pt := range patients {
		profile, ok := byID[pt.ID]
		if !ok || seen[pt.ID] {
			continue
		}
		seen[pt.ID] = true
		out = append(out, &model.PatientSummary{
			ID:                  pt.ID,
			FullName:            profile.FullName,
			Email:               profile.Email,
			DateOfBirth:         model.FormatDate(pt.DateOfBirth),
			MedicalRecordNumber: pt.MedicalRecordNumber,
		})
	}
	sort.SliceStable(out, func(i, k int) bool {
		return strings.ToLower(out[i].FullName) < strings.ToLower(out[k].FullName)
	})
	return out, nil
}

// joiner holds the counterparty rows fetched for one assembly.
type joiner struct {
	role     model.Role
	now      time.Time
	doctors  map[uuid.UUID]*model.Doctor
	patients map[uuid.UUID]*model.Patient
	profiles map[uuid.UUID]*model.Profile
}

func (a *Assembler) joiner(ctx context.Context, identity *model.Identity, now time.Time) (*joiner, error) {
	j := &joiner{role: identity.Role, now: now}

	switch identity.Role {
	case model.RoleDoctor:
		patients, err := a.store.ListPatients(ctx, identity)
		if err != nil {
			return nil, storeFailure(err)
		}
		j.patients = make(map[uuid.UUID]*model.Patient, len(patients))
		for _, p := range patients {
			if p != nil && j.patients[p.ID] == nil {
				j.patients[p.ID] = p
			}
		}
	case model.RolePatient:
		doctors, err := a.store.ListDoctors(ctx, identity)
		if err != nil {
			return nil, storeFailure(err)
		}
		j.doctors = make(map[uuid.UUID]*model.Doctor, len(doctors))
		for _, d := range doctors {
			if d != nil && j.doctors[d.ID] == nil {
				j.doctors[d.ID] = d
			}
		}
	}

	profiles, err := a.store.ListProfiles(ctx, identity)
	if err != nil {
		return nil, storeFailure(err)
	}
	j.profiles = model.ProfileIndex(profiles)
	return j, nil
}

// attach builds the view for row. A relation is set only when both the
// role row and the profile row exist.
func (j *joiner) attach(row *model.Prescription) *model.PrescriptionView {
	view := model.NewPrescriptionView(row, j.now)
	switch j.role {
	case model.RoleDoctor:
		pt, okPt := j.patients[row.PatientID]
		profile, okProfile := j.profiles[row.PatientID]
		if okPt && okProfile {
			view.Patient = model.NewPatientView(pt, profile, j.now)
		}
	case model.RolePatient:
		d, okD := j.doctors[row.DoctorID]
		profile, okProfile := j.profiles[row.DoctorID]
		if okD && okProfile {
			view.Doctor = model.NewDoctorView(d, profile, j.now)
		}
	}
	view.Label()
	return view
}
