package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/rx-api/internal/config"
	"github.com/jwalitptl/rx-api/internal/model"
	"github.com/jwalitptl/rx-api/internal/repository"
	apperrors "github.com/jwalitptl/rx-api/pkg/errors"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func expectIdentity(mock sqlmock.Sqlmock, identity *model.Identity) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(setIdentityQuery)).
		WithArgs(identity.UserID.String(), string(identity.Role)).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

var prescriptionCols = []string{
	"id", "doctor_id", "patient_id", "date_issued", "diagnosis", "medications",
	"notes", "pdf_url", "status", "created_at", "updated_at",
}

func TestListPrescriptionsRunsUnderIdentity(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPrescriptionRepository(NewBaseRepository(db))

	doctor := &model.Identity{UserID: uuid.New(), Role: model.RoleDoctor}
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	id := uuid.New()

	expectIdentity(mock, doctor)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM prescriptions ORDER BY created_at DESC`)).
		WillReturnRows(sqlmock.NewRows(prescriptionCols).AddRow(
			id, doctor.UserID, uuid.New(), created, "Flu",
			[]byte(`[{"name":"Oseltamivir","dosage":"75mg","frequency":"2x daily","duration":"5 days"}]`),
			nil, nil, "active", created, nil,
		))
	mock.ExpectCommit()

	got, err := repo.ListPrescriptions(context.Background(), doctor)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, "Oseltamivir", got[0].Medications[0].Name)
	assert.Nil(t, got[0].UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPrescriptionsRejectsMissingIdentity(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPrescriptionRepository(NewBaseRepository(db))

	_, err := repo.ListPrescriptions(context.Background(), nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrUnauthenticated))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPrescriptionHiddenByPolicy(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPrescriptionRepository(NewBaseRepository(db))
	patient := &model.Identity{UserID: uuid.New(), Role: model.RolePatient}

	expectIdentity(mock, patient)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM prescriptions WHERE id = $1`)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.GetPrescription(context.Background(), patient, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePrescriptionWritesOutboxInSameTx(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPrescriptionRepository(NewBaseRepository(db))
	doctor := &model.Identity{UserID: uuid.New(), Role: model.RoleDoctor}
	now := time.Now()

	p := &model.Prescription{
		DoctorID:    doctor.UserID,
		PatientID:   uuid.New(),
		Diagnosis:   "Strep throat",
		Medications: model.Medications{{Name: "Amoxicillin", Dosage: "500mg", Frequency: "3x daily", Duration: "10 days"}},
	}

	expectIdentity(mock, doctor)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO prescriptions`)).
		WithArgs(sqlmock.AnyArg(), doctor.UserID, p.PatientID, "Strep throat", sqlmock.AnyArg(), nil, model.PrescriptionStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"date_issued", "created_at", "updated_at"}).AddRow(now, now, now))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO outbox_events`)).
		WithArgs(sqlmock.AnyArg(), model.EventPrescriptionCreated, sqlmock.AnyArg(), model.OutboxStatusPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CreatePrescription(context.Background(), doctor, p))
	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, model.PrescriptionStatusActive, p.Status)
	require.NotNil(t, p.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePrescriptionMapsDriverErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode apperrors.ErrorCode
		wantMsg  string
	}{
		{
			name:     "row level security",
			err:      &pq.Error{Code: "42501", Message: `new row violates row-level security policy for table "prescriptions"`},
			wantCode: apperrors.ErrForbidden,
			wantMsg:  `new row violates row-level security policy for table "prescriptions"`,
		},
		{
			name:     "unknown patient",
			err:      &pq.Error{Code: "23503", Message: "insert or update violates foreign key constraint"},
			wantCode: apperrors.ErrValidation,
			wantMsg:  "patient does not exist",
		},
		{
			name:     "check constraint",
			err:      &pq.Error{Code: "23514", Message: `new row violates check constraint "prescriptions_diagnosis_check"`},
			wantCode: apperrors.ErrValidation,
			wantMsg:  `new row violates check constraint "prescriptions_diagnosis_check"`,
		},
		{
			name:     "anything else",
			err:      &pq.Error{Code: "57014", Message: "canceling statement due to statement timeout"},
			wantCode: apperrors.ErrStoreFailure,
			wantMsg:  "canceling statement due to statement timeout",
		},
		{
			name:     "connection",
			err:      errors.New("connection refused"),
			wantCode: apperrors.ErrStoreFailure,
			wantMsg:  "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			repo := NewPrescriptionRepository(NewBaseRepository(db))
			doctor := &model.Identity{UserID: uuid.New(), Role: model.RoleDoctor}

			expectIdentity(mock, doctor)
			mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO prescriptions`)).WillReturnError(tt.err)
			mock.ExpectRollback()

			err := repo.CreatePrescription(context.Background(), doctor, &model.Prescription{
				DoctorID:  doctor.UserID,
				PatientID: uuid.New(),
				Diagnosis: "x",
			})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.Code(err))
			assert.Equal(t, tt.wantMsg, err.Error())
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUpdatePrescriptionKeepsStatusWhenUnset(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPrescriptionRepository(NewBaseRepository(db))
	doctor := &model.Identity{UserID: uuid.New(), Role: model.RoleDoctor}
	id, patientID := uuid.New(), uuid.New()
	now := time.Now()

	expectIdentity(mock, doctor)
	mock.ExpectQuery(regexp.QuoteMeta(`status = COALESCE($5, status)`)).
		WithArgs(id, "Updated", sqlmock.AnyArg(), nil, nil).
		WillReturnRows(sqlmock.NewRows(prescriptionCols).AddRow(
			id, doctor.UserID, patientID, now, "Updated", []byte(`[]`), nil, nil, "completed", now, now,
		))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO outbox_events`)).
		WithArgs(sqlmock.AnyArg(), model.EventPrescriptionUpdated, sqlmock.AnyArg(), model.OutboxStatusPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p := &model.Prescription{Base: model.Base{ID: id}, Diagnosis: "Updated"}
	require.NoError(t, repo.UpdatePrescription(context.Background(), doctor, p))
	assert.Equal(t, patientID, p.PatientID)
	assert.Equal(t, model.PrescriptionStatusCompleted, p.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePrescriptionNotAuthored(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPrescriptionRepository(NewBaseRepository(db))
	doctor := &model.Identity{UserID: uuid.New(), Role: model.RoleDoctor}

	expectIdentity(mock, doctor)
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE prescriptions`)).
		WillReturnRows(sqlmock.NewRows(prescriptionCols))
	mock.ExpectRollback()

	err := repo.UpdatePrescription(context.Background(), doctor, &model.Prescription{Base: model.Base{ID: uuid.New()}, Diagnosis: "x"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListProfilesUnderIdentity(t *testing.T) {
	db, mock := newMock(t)
	repo := NewProfileRepository(NewBaseRepository(db))
	patient := &model.Identity{UserID: uuid.New(), Role: model.RolePatient}

	expectIdentity(mock, patient)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + profileColumns + ` FROM profiles`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name", "phone", "role", "created_at", "updated_at"}).
			AddRow(patient.UserID, "p@example.com", "Pat", nil, "patient", nil, nil))
	mock.ExpectCommit()

	got, err := repo.ListProfiles(context.Background(), patient)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.RolePatient, got[0].Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPendingEvents(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOutboxRepository(NewBaseRepository(db))
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`status = 'retry' AND retry_at <= NOW\(\)\)\s+OR \(status = 'processing' AND updated_at < NOW\(\) - make_interval\(secs => \$2\)\)`).
		WithArgs(10, 300.0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_type", "payload", "status", "error_message", "retry_count", "retry_at", "created_at", "processed_at", "updated_at"}).
			AddRow(id, model.EventPrescriptionCreated, []byte(`{}`), "processing", "broker down", 2, nil, now, nil, now))

	events, err := repo.ClaimPendingEvents(context.Background(), 10, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.OutboxStatusProcessing, events[0].Status)
	assert.Equal(t, 2, events[0].RetryCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRetrySchedulesRow(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOutboxRepository(NewBaseRepository(db))
	id := uuid.New()
	at := time.Date(2024, 6, 1, 8, 0, 30, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`SET status = 'retry', error_message = $2, retry_count = retry_count + 1, retry_at = $3`)).
		WithArgs(id, "broker down", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkRetry(context.Background(), id, "broker down", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedMissingRow(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOutboxRepository(NewBaseRepository(db))

	mock.ExpectExec(regexp.QuoteMeta(`SET status = 'failed'`)).
		WithArgs(sqlmock.AnyArg(), "broker down").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkFailed(context.Background(), uuid.New(), "broker down")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreateAccountDuplicateEmail(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAccountRepository(NewBaseRepository(db))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(setIdentityQuery)).
		WithArgs(sqlmock.AnyArg(), "doctor").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO profiles`)).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err := repo.CreateAccount(context.Background(),
		&model.Profile{Email: "Dr@Example.com", FullName: "Dr", Role: model.RoleDoctor},
		&model.Doctor{Specialization: "GP"}, nil, "hash")
	assert.ErrorIs(t, err, model.ErrEmailTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigratorLoadSortsAndSkips(t *testing.T) {
	files := fstest.MapFS{
		"010_tables.sql": {Data: []byte("SELECT 10;")},
		"002_second.sql": {Data: []byte("SELECT 2;")},
		"001_first.sql":  {Data: []byte("SELECT 1;")},
		"README.md":      {Data: []byte("docs")},
		"notes.sql":      {Data: []byte("SELECT 0;")},
	}

	migrations, err := NewMigratorFS(nil, files).Load()
	require.NoError(t, err)
	require.Len(t, migrations, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{migrations[0].Version, migrations[1].Version, migrations[2].Version})
	assert.Equal(t, "SELECT 1;", migrations[0].SQL)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	migrations, err := NewMigrator(nil).Load()
	require.NoError(t, err)
	require.Len(t, migrations, 3)
	assert.Contains(t, migrations[1].SQL, "FORCE ROW LEVEL SECURITY")
	assert.Contains(t, migrations[2].SQL, "retry_at")
}

func TestMigratorUpAppliesPending(t *testing.T) {
	db, mock := newMock(t)
	files := fstest.MapFS{
		"001_first.sql":  {Data: []byte("CREATE TABLE a (id INT);")},
		"002_second.sql": {Data: []byte("CREATE TABLE b (id INT);")},
	}

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS schema_migrations`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version, applied_at FROM schema_migrations`)).
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).AddRow(1, time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE b (id INT);`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO schema_migrations`)).
		WithArgs(2, "002_second.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := NewMigratorFS(db, files).Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewDBRegistersStatsThenPings(t *testing.T) {
	_, err := NewDB(config.DatabaseConfig{
		Host: "127.0.0.1", Port: 1, User: "rx", Name: "rx", SSLMode: "disable",
		MaxOpenConns: 1, MaxIdleConns: 1, ConnMaxLifetime: time.Minute,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping database")
}
