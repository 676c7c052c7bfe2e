package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/rx-api/internal/model"
)

// ErrNotFound is returned when a row is missing or hidden by row-level policy.
var ErrNotFound = errors.New("record not found")

// All repository interfaces in one file. Every method that touches profile,
// doctor, patient or prescription rows takes the caller identity; the store's
// row-level policy decides what that identity may see.
type (
	ProfileRepository interface {
		ListProfiles(ctx context.Context, identity *model.Identity) ([]*model.Profile, error)
		GetProfile(ctx context.Context, identity *model.Identity, id uuid.UUID) (*model.Profile, error)
	}

	DoctorRepository interface {
		ListDoctors(ctx context.Context, identity *model.Identity) ([]*model.Doctor, error)
	}

	PatientRepository interface {
		ListPatients(ctx context.Context, identity *model.Identity) ([]*model.Patient, error)
	}

	PrescriptionRepository interface {
		// ListPrescriptions returns visible rows newest created_at first.
		ListPrescriptions(ctx context.Context, identity *model.Identity) ([]*model.Prescription, error)
		GetPrescription(ctx context.Context, identity *model.Identity, id uuid.UUID) (*model.Prescription, error)
		// CreatePrescription inserts p and a prescription.created outbox event
		// in one transaction. The store fills date_issued and timestamps.
		CreatePrescription(ctx context.Context, identity *model.Identity, p *model.Prescription) error
		// UpdatePrescription overwrites diagnosis, medications, notes and, when
		// non-empty, status. p is refreshed from the stored row and a
		// prescription.updated event is written in the same transaction.
		UpdatePrescription(ctx context.Context, identity *model.Identity, p *model.Prescription) error
	}

	// AccountRepository owns sign-up and credential lookup.
	AccountRepository interface {
		CreateAccount(ctx context.Context, profile *model.Profile, doctor *model.Doctor, patient *model.Patient, passwordHash string) error
		GetCredentialByEmail(ctx context.Context, email string) (*model.Credential, error)
	}

	OutboxRepository interface {
		// ClaimPendingEvents moves up to limit due rows to processing and
		// returns them; concurrent workers never claim the same row. Due rows
		// are pending ones, retries whose retry_at has passed, and processing
		// rows untouched for staleAfter (claimed by a worker that died).
		ClaimPendingEvents(ctx context.Context, limit int, staleAfter time.Duration) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		// MarkRetry records a failed delivery and schedules the row for retryAt.
		MarkRetry(ctx context.Context, id uuid.UUID, reason string, retryAt time.Time) error
		// MarkFailed records a failed delivery and gives up on the row.
		MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	}

	// RecordStore is the full set a backend provides.
	RecordStore interface {
		ProfileRepository
		DoctorRepository
		PatientRepository
		PrescriptionRepository
		AccountRepository
		Ping(ctx context.Context) error
	}
)
