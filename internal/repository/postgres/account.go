package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/rx-api/internal/model"
	"github.com/jwalitptl/rx-api/internal/repository"
)

type accountRepository struct {
	BaseRepository
}

func NewAccountRepository(base BaseRepository) repository.AccountRepository {
	return &accountRepository{base}
}

// CreateAccount writes the profile, its role row and the credential under the
// new account's own identity, which is what the insert policies require.
func (r *accountRepository) CreateAccount(ctx context.Context, profile *model.Profile, doctor *model.Doctor, patient *model.Patient, passwordHash string) error {
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	profile.Email = strings.ToLower(profile.Email)
	identity := &model.Identity{UserID: profile.ID, Role: profile.Role, Email: profile.Email}

	err := r.WithIdentity(ctx, identity, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO profiles (id, email, full_name, phone, role)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at, updated_at`,
			profile.ID, profile.Email, profile.FullName, profile.Phone, profile.Role,
		).Scan(&profile.CreatedAt, &profile.UpdatedAt)
		if err != nil {
			return err
		}

		switch {
		case doctor != nil:
			doctor.ID = profile.ID
			err = tx.QueryRowxContext(ctx, `
				INSERT INTO doctors (id, specialization, license_number)
				VALUES ($1, $2, $3)
				RETURNING created_at, updated_at`,
				doctor.ID, doctor.Specialization, doctor.LicenseNumber,
			).Scan(&doctor.CreatedAt, &doctor.UpdatedAt)
		case patient != nil:
			patient.ID = profile.ID
			err = tx.QueryRowxContext(ctx, `
				INSERT INTO patients (id, date_of_birth, medical_record_number, emergency_contact)
				VALUES ($1, $2, $3, $4)
				RETURNING created_at, updated_at`,
				patient.ID, patient.DateOfBirth, patient.MedicalRecordNumber, patient.EmergencyContact,
			).Scan(&patient.CreatedAt, &patient.UpdatedAt)
		}
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO credentials (profile_id, email, password_hash, role)
			VALUES ($1, $2, $3, $4)`,
			profile.ID, profile.Email, passwordHash, profile.Role,
		)
		return err
	})

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return model.ErrEmailTaken
	}
	return mapError(err)
}

func (r *accountRepository) GetCredentialByEmail(ctx context.Context, email string) (*model.Credential, error) {
	var cred model.Credential
	err := r.db.GetContext(ctx, &cred, `
		SELECT profile_id, email, password_hash, role, created_at
		FROM credentials
		WHERE email = $1`,
		strings.ToLower(email),
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &cred, nil
}
