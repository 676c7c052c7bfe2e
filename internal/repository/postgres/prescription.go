package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/rx-api/internal/model"
	"github.com/jwalitptl/rx-api/internal/repository"
)

const prescriptionColumns = `id, doctor_id, patient_id, date_issued, diagnosis, medications, notes, pdf_url, status, created_at, updated_at`

type prescriptionRepository struct {
	BaseRepository
	now func() time.Time
}

func NewPrescriptionRepository(base BaseRepository) repository.PrescriptionRepository {
	return &prescriptionRepository{BaseRepository: base, now: time.Now}
}

func (r *prescriptionRepository) ListPrescriptions(ctx context.Context, identity *model.Identity) ([]*model.Prescription, error) {
	prescriptions := make([]*model.Prescription, 0)
	err := r.WithIdentity(ctx, identity, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &prescriptions,
			`SELECT `+prescriptionColumns+` FROM prescriptions ORDER BY created_at DESC`)
	})
	if err != nil {
		return nil, mapError(err)
	}
	return prescriptions, nil
}

func (r *prescriptionRepository) GetPrescription(ctx context.Context, identity *model.Identity, id uuid.UUID) (*model.Prescription, error) {
	var p model.Prescription
	err := r.WithIdentity(ctx, identity, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &p, `SELECT `+prescriptionColumns+` FROM prescriptions WHERE id = $1`, id)
	})
	if err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

func (r *prescriptionRepository) CreatePrescription(ctx context.Context, identity *model.Identity, p *model.Prescription) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = model.PrescriptionStatusActive
	}

	query := `
		INSERT INTO prescriptions (id, doctor_id, patient_id, diagnosis, medications, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING date_issued, created_at, updated_at
	`
	err := r.WithIdentity(ctx, identity, func(tx *sqlx.Tx) error {
		row := tx.QueryRowxContext(ctx, query,
			p.ID, p.DoctorID, p.PatientID, p.Diagnosis, p.Medications, p.Notes, p.Status,
		)
		if err := row.Scan(&p.DateIssued, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return err
		}
		return r.enqueue(ctx, tx, model.EventPrescriptionCreated, p)
	})
	return mapError(err)
}

func (r *prescriptionRepository) UpdatePrescription(ctx context.Context, identity *model.Identity, p *model.Prescription) error {
	var status *string
	if p.Status != "" {
		s := string(p.Status)
		status = &s
	}

	// doctor_id and patient_id are never written here; the update policy
	// hides rows the caller did not author.
	query := `
		UPDATE prescriptions
		SET diagnosis = $2,
			medications = $3,
			notes = $4,
			status = COALESCE($5, status),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + prescriptionColumns

	var updated model.Prescription
	err := r.WithIdentity(ctx, identity, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &updated, query, p.ID, p.Diagnosis, p.Medications, p.Notes, status); err != nil {
			return err
		}
		return r.enqueue(ctx, tx, model.EventPrescriptionUpdated, &updated)
	})
	if err != nil {
		return mapError(err)
	}
	*p = updated
	return nil
}

func (r *prescriptionRepository) enqueue(ctx context.Context, tx *sqlx.Tx, eventType string, p *model.Prescription) error {
	event, err := model.NewPrescriptionEvent(eventType, p, r.now())
	if err != nil {
		return err
	}
	return insertOutboxEvent(ctx, tx, event)
}
