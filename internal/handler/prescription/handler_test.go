package prescription

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/rx-api/internal/middleware"
	"github.com/jwalitptl/rx-api/internal/model"
	"github.com/jwalitptl/rx-api/internal/repository/memory"
	"github.com/jwalitptl/rx-api/internal/service/document"
	"github.com/jwalitptl/rx-api/internal/service/prescription"
	apperrors "github.com/jwalitptl/rx-api/pkg/errors"
)

var fixedNow = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// tokenAuth treats the bearer token as a key into a fixed identity table.
type tokenAuth map[string]*model.Identity

func (a tokenAuth) Authenticate(_ context.Context, token string) (*model.Identity, error) {
	if id, ok := a[token]; ok {
		return id, nil
	}
	return nil, apperrors.NewUnauthenticated("invalid or expired token")
}

type recordingMailer struct {
	to  string
	doc *document.Document
	err error
}

func (m *recordingMailer) Send(_ context.Context, to string, doc *document.Document) error {
	m.to, m.doc = to, doc
	return m.err
}

type fixture struct {
	store   *memory.Store
	router  *gin.Engine
	mailer  *recordingMailer
	doctor  *model.Identity
	patient *model.Identity
}

func setup(t *testing.T, withMailer bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore(memory.WithClock(clock))
	f := &fixture{
		store:   store,
		mailer:  &recordingMailer{},
		doctor:  &model.Identity{UserID: uuid.New(), Role: model.RoleDoctor, Email: "ada@example.com"},
		patient: &model.Identity{UserID: uuid.New(), Role: model.RolePatient, Email: "zoe@example.com"},
	}
	store.SeedProfile(&model.Profile{Base: model.Base{ID: f.doctor.UserID}, FullName: "Ada Wong", Email: f.doctor.Email, Role: model.RoleDoctor})
	store.SeedDoctor(&model.Doctor{Base: model.Base{ID: f.doctor.UserID}, Specialization: "Pulmonology"})
	store.SeedProfile(&model.Profile{Base: model.Base{ID: f.patient.UserID}, FullName: "Zoe Park", Email: f.patient.Email, Role: model.RolePatient})
	store.SeedPatient(&model.Patient{Base: model.Base{ID: f.patient.UserID}})

	var mailer Mailer
	if withMailer {
		mailer = f.mailer
	}
	h := NewHandler(
		prescription.NewAssembler(store, prescription.WithClock(clock)),
		prescription.NewAuthoring(store, prescription.WithClock(clock)),
		document.NewRenderer(document.WithClock(clock)),
		mailer,
	)

	auth := middleware.NewAuthMiddleware(tokenAuth{"doctor": f.doctor, "patient": f.patient})
	f.router = gin.New()
	api := f.router.Group("/api/v1", auth.Authenticate())
	h.RegisterRoutes(api, auth)
	return f
}

func (f *fixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	if into != nil {
		require.NoError(t, json.Unmarshal(env.Data, into))
	}
	return env
}

func (f *fixture) createBody() string {
	return `{"patient_id":"` + f.patient.UserID.String() + `","diagnosis":"Bronchitis",` +
		`"medications":[{"name":"Amoxicillin","dosage":"500mg","frequency":"3x daily","duration":"7 days"}],` +
		`"notes":"Take with food"}`
}

func TestCreateListAndGet(t *testing.T) {
	f := setup(t, false)

	w := f.do(http.MethodPost, "/api/v1/prescriptions", "doctor", f.createBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created model.Prescription
	decode(t, w, &created)
	assert.Equal(t, model.PrescriptionStatusActive, created.Status)
	assert.Equal(t, f.doctor.UserID, created.DoctorID)

	w = f.do(http.MethodGet, "/api/v1/prescriptions", "patient", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store, private", w.Header().Get("Cache-Control"))
	var views []*model.PrescriptionView
	decode(t, w, &views)
	require.Len(t, views, 1)
	assert.Equal(t, "Bronchitis", views[0].Diagnosis)

	w = f.do(http.MethodGet, "/api/v1/prescriptions/"+created.ID.String(), "doctor", "")
	require.Equal(t, http.StatusOK, w.Code)
	var view model.PrescriptionView
	decode(t, w, &view)
	assert.Equal(t, created.ID, view.ID)
}

func TestCreateRejectsPatients(t *testing.T) {
	f := setup(t, false)

	w := f.do(http.MethodPost, "/api/v1/prescriptions", "patient", f.createBody())
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, f.store.PrescriptionCount())
}

func TestCreateValidation(t *testing.T) {
	f := setup(t, false)

	w := f.do(http.MethodPost, "/api/v1/prescriptions", "doctor", `{"diagnosis":"Flu","medications":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "at least one medication is required", decode(t, w, nil).Message)

	w = f.do(http.MethodPost, "/api/v1/prescriptions", "doctor", `{"diagnosis":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid request body", decode(t, w, nil).Message)
}

func TestUnauthenticated(t *testing.T) {
	f := setup(t, false)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/v1/prescriptions", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/v1/prescriptions", "stranger", "").Code)
}

func TestGetInvalidAndMissing(t *testing.T) {
	f := setup(t, false)

	w := f.do(http.MethodGet, "/api/v1/prescriptions/not-a-uuid", "doctor", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid prescription id", decode(t, w, nil).Message)

	w = f.do(http.MethodGet, "/api/v1/prescriptions/"+uuid.NewString(), "doctor", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateChangesStatus(t *testing.T) {
	f := setup(t, false)
	var created model.Prescription
	decode(t, f.do(http.MethodPost, "/api/v1/prescriptions", "doctor", f.createBody()), &created)

	body := `{"diagnosis":"Acute bronchitis","status":"completed",` +
		`"medications":[{"name":"Amoxicillin","dosage":"250mg","frequency":"2x daily","duration":"5 days"}]}`
	w := f.do(http.MethodPut, "/api/v1/prescriptions/"+created.ID.String(), "doctor", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated model.Prescription
	decode(t, w, &updated)
	assert.Equal(t, model.PrescriptionStatusCompleted, updated.Status)
	assert.Equal(t, "Acute bronchitis", updated.Diagnosis)
	assert.Equal(t, "250mg", updated.Medications[0].Dosage)
}

func TestStats(t *testing.T) {
	f := setup(t, false)
	f.do(http.MethodPost, "/api/v1/prescriptions", "doctor", f.createBody())
	f.do(http.MethodPost, "/api/v1/prescriptions", "doctor", f.createBody())

	w := f.do(http.MethodGet, "/api/v1/prescriptions/stats", "patient", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats model.PrescriptionStats
	decode(t, w, &stats)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Active)
}

func TestDocumentDownload(t *testing.T) {
	f := setup(t, false)
	var created model.Prescription
	decode(t, f.do(http.MethodPost, "/api/v1/prescriptions", "doctor", f.createBody()), &created)

	w := f.do(http.MethodGet, "/api/v1/prescriptions/"+created.ID.String()+"/document", "patient", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, document.ContentTypeHTML, w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="prescription-`+created.ID.String()[:8]+`.html"`, w.Header().Get("Content-Disposition"))
	assert.Contains(t, w.Body.String(), "Bronchitis")
	assert.Contains(t, w.Body.String(), "Take with food")
}

func TestEmailDocument(t *testing.T) {
	f := setup(t, true)
	var created model.Prescription
	decode(t, f.do(http.MethodPost, "/api/v1/prescriptions", "doctor", f.createBody()), &created)
	path := "/api/v1/prescriptions/" + created.ID.String() + "/document/email"

	w := f.do(http.MethodPost, path, "patient", "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "zoe@example.com", f.mailer.to)
	require.NotNil(t, f.mailer.doc)
	assert.Equal(t, document.Filename(&model.PrescriptionView{ID: created.ID}), f.mailer.doc.Filename)

	w = f.do(http.MethodPost, path, "doctor", `{"to":"pharmacy@example.com"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "pharmacy@example.com", f.mailer.to)

	w = f.do(http.MethodPost, path, "doctor", `{"to":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.mailer.err = apperrors.NewInternal(errors.New("smtp down"))
	w = f.do(http.MethodPost, path, "doctor", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decode(t, w, nil).Message)
}

func TestEmailDocumentWithoutMailer(t *testing.T) {
	f := setup(t, false)
	var created model.Prescription
	decode(t, f.do(http.MethodPost, "/api/v1/prescriptions", "doctor", f.createBody()), &created)

	w := f.do(http.MethodPost, "/api/v1/prescriptions/"+created.ID.String()+"/document/email", "patient", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
