package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/rx-api/internal/repository"
)

type recordStore struct {
	repository.ProfileRepository
	repository.DoctorRepository
	repository.PatientRepository
	repository.PrescriptionRepository
	repository.AccountRepository
	BaseRepository
}

// NewRecordStore bundles the identity-scoped repositories over one pool.
func NewRecordStore(db *sqlx.DB) repository.RecordStore {
	base := NewBaseRepository(db)
	return &recordStore{
		ProfileRepository:      NewProfileRepository(base),
		DoctorRepository:       NewDoctorRepository(base),
		PatientRepository:      NewPatientRepository(base),
		PrescriptionRepository: NewPrescriptionRepository(base),
		AccountRepository:      NewAccountRepository(base),
		BaseRepository:         base,
	}
}
