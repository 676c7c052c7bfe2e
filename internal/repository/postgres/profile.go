package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/rx-api/internal/model"
	"github.com/jwalitptl/rx-api/internal/repository"
)

const (
	profileColumns = `id, email, full_name, phone, role, created_at, updated_at`
	doctorColumns  = `id, specialization, license_number, created_at, updated_at`
	patientColumns = `id, date_of_birth, medical_record_number, emergency_contact, created_at, updated_at`
)

type profileRepository struct {
	BaseRepository
}

func NewProfileRepository(base BaseRepository) repository.ProfileRepository {
	return &profileRepository{base}
}

func (r *profileRepository) ListProfiles(ctx context.Context, identity *model.Identity) ([]*model.Profile, error) {
	profiles := make([]*model.Profile, 0)
	err := r.WithIdentity(ctx, identity, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &profiles, `SELECT `+profileColumns+` FROM profiles`)
	})
	if err != nil {
		return nil, mapError(err)
	}
	return profiles, nil
}

func (r *profileRepository) GetProfile(ctx context.Context, identity *model.Identity, id uuid.UUID) (*model.Profile, error) {
	var profile model.Profile
	err := r.WithIdentity(ctx, identity, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &profile, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &profile, nil
}

type doctorRepository struct {
	BaseRepository
}

func NewDoctorRepository(base BaseRepository) repository.DoctorRepository {
	return &doctorRepository{base}
}

func (r *doctorRepository) ListDoctors(ctx context.Context, identity *model.Identity) ([]*model.Doctor, error) {
	doctors := make([]*model.Doctor, 0)
	err := r.WithIdentity(ctx, identity, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &doctors, `SELECT `+doctorColumns+` FROM doctors`)
	})
	if err != nil {
		return nil, mapError(err)
	}
	return doctors, nil
}

type patientRepository struct {
	BaseRepository
}

func NewPatientRepository(base BaseRepository) repository.PatientRepository {
	return &patientRepository{base}
}

func (r *patientRepository) ListPatients(ctx context.Context, identity *model.Identity) ([]*model.Patient, error) {
	patients := make([]*model.Patient, 0)
	err := r.WithIdentity(ctx, identity, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &patients, `SELECT `+patientColumns+` FROM patients`)
	})
	if err != nil {
		return nil, mapError(err)
	}
	return patients, nil
}
