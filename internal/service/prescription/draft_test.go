package prescription

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/rx-api/internal/model"
	apperrors "github.com/jwalitptl/rx-api/pkg/errors"
)

func newDrafts(w *world, ttl time.Duration) *Drafts {
	return NewDrafts(w.authoring, w.assembler, ttl, time.Minute, WithClock(clock))
}

func TestDraftLifecycleCreates(t *testing.T) {
	w := newWorld(t)
	drafts := newDrafts(w, time.Minute)
	ctx := context.Background()

	d, err := drafts.Open(ctx, w.d1, nil)
	require.NoError(t, err)
	assert.Empty(t, d.Medications)

	_, err = drafts.Edit(w.d1, d.ID, func(d *Draft) error {
		d.SetPatient(w.p1.UserID)
		d.SetDiagnosis("Sinusitis")
		d.AddMedication(amoxicillin())
		d.AddMedication(model.Medication{Name: "Saline", Dosage: "2 sprays", Frequency: "2x daily", Duration: "10 days"})
		return nil
	})
	require.NoError(t, err)

	got, err := drafts.Edit(w.d1, d.ID, func(d *Draft) error { return d.RemoveMedication(0) })
	require.NoError(t, err)
	require.Len(t, got.Medications, 1)
	assert.Equal(t, "Saline", got.Medications[0].Name)

	// nothing persisted before submit
	assert.Zero(t, w.store.PrescriptionCount())

	p, err := drafts.Submit(ctx, w.d1, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sinusitis", p.Diagnosis)
	assert.Nil(t, p.Notes)
	assert.Equal(t, 1, w.store.PrescriptionCount())

	_, err = drafts.Get(w.d1, d.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestDraftSeededFromExistingSubmitsUpdate(t *testing.T) {
	w := newWorld(t)
	drafts := newDrafts(w, time.Minute)
	ctx := context.Background()
	id := w.seed(w.d1, w.p1, day(2), "Asthma")

	d, err := drafts.Open(ctx, w.d1, &id)
	require.NoError(t, err)
	require.NotNil(t, d.PrescriptionID)
	assert.Equal(t, "Asthma", d.Diagnosis)
	assert.Equal(t, w.p1.UserID, d.PatientID)
	require.Len(t, d.Medications, 1)

	_, err = drafts.Edit(w.d1, d.ID, func(d *Draft) error {
		d.SetNotes("review in 2 weeks")
		return d.UpdateMedication(0, model.Medication{Name: "Salbutamol", Dosage: "100mcg", Frequency: "as needed", Duration: "30 days"})
	})
	require.NoError(t, err)

	p, err := drafts.Submit(ctx, w.d1, d.ID)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, "Salbutamol", p.Medications[0].Name)
	assert.Equal(t, "review in 2 weeks", *p.Notes)
	assert.Equal(t, 1, w.store.PrescriptionCount())
}

func TestDraftOwnership(t *testing.T) {
	w := newWorld(t)
	drafts := newDrafts(w, time.Minute)
	d, err := drafts.Open(context.Background(), w.d1, nil)
	require.NoError(t, err)

	_, err = drafts.Get(w.d2, d.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
	assert.True(t, apperrors.IsCode(drafts.Discard(w.d2, d.ID), apperrors.ErrNotFound))

	_, err = drafts.Open(context.Background(), w.p1, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrForbidden))
}

func TestDraftFailedEditLeavesDraftUnchanged(t *testing.T) {
	w := newWorld(t)
	drafts := newDrafts(w, time.Minute)
	d, err := drafts.Open(context.Background(), w.d1, nil)
	require.NoError(t, err)

	_, err = drafts.Edit(w.d1, d.ID, func(d *Draft) error {
		d.SetDiagnosis("changed")
		return d.RemoveMedication(3)
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))

	got, err := drafts.Get(w.d1, d.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Diagnosis)
}

func TestDraftInvalidSubmitKeepsDraft(t *testing.T) {
	w := newWorld(t)
	drafts := newDrafts(w, time.Minute)
	d, err := drafts.Open(context.Background(), w.d1, nil)
	require.NoError(t, err)

	_, err = drafts.Submit(context.Background(), w.d1, d.ID)
	assert.EqualError(t, err, "at least one medication is required")

	_, err = drafts.Get(w.d1, d.ID)
	assert.NoError(t, err)
}

func TestDraftDiscardAndExpiry(t *testing.T) {
	w := newWorld(t)
	drafts := newDrafts(w, 20*time.Millisecond)
	ctx := context.Background()

	d, err := drafts.Open(ctx, w.d1, nil)
	require.NoError(t, err)
	require.NoError(t, drafts.Discard(w.d1, d.ID))
	_, err = drafts.Get(w.d1, d.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))

	d, err = drafts.Open(ctx, w.d1, nil)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = drafts.Get(w.d1, d.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestDraftOpenUnknownPrescription(t *testing.T) {
	w := newWorld(t)
	drafts := newDrafts(w, time.Minute)
	missing := uuid.New()
	_, err := drafts.Open(context.Background(), w.d1, &missing)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}
