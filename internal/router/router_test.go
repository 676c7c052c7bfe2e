package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	authhandler "github.com/jwalitptl/rx-api/internal/handler/auth"
	drafthandler "github.com/jwalitptl/rx-api/internal/handler/draft"
	eventshandler "github.com/jwalitptl/rx-api/internal/handler/events"
	"github.com/jwalitptl/rx-api/internal/handler/health"
	patienthandler "github.com/jwalitptl/rx-api/internal/handler/patient"
	rxhandler "github.com/jwalitptl/rx-api/internal/handler/prescription"
	"github.com/jwalitptl/rx-api/internal/handler/prometheus"
	"github.com/jwalitptl/rx-api/internal/middleware"
	"github.com/jwalitptl/rx-api/internal/model"
	"github.com/jwalitptl/rx-api/internal/repository/memory"
	authsvc "github.com/jwalitptl/rx-api/internal/service/auth"
	"github.com/jwalitptl/rx-api/internal/service/document"
	"github.com/jwalitptl/rx-api/internal/service/prescription"
	"github.com/jwalitptl/rx-api/pkg/auth"
	"github.com/jwalitptl/rx-api/pkg/logger"
	"github.com/jwalitptl/rx-api/pkg/metrics"
	"github.com/jwalitptl/rx-api/pkg/security"
)

func newEngine(t *testing.T) *gin.Engine {
	t.Helper()
	store := memory.NewStore()
	reg := promclient.NewRegistry()
	m := metrics.NewMetrics("rx", "api", reg)

	accounts := authsvc.NewService(store,
		auth.NewJWTService("router-secret", "rx-api", time.Hour, nil),
		security.NewBcryptHasher(bcrypt.MinCost),
		authsvc.NewMemoryRevoker(),
	)
	assembler := prescription.NewAssembler(store, prescription.WithMetrics(m))
	authoring := prescription.NewAuthoring(store, prescription.WithMetrics(m))
	drafts := prescription.NewDrafts(authoring, assembler, time.Minute, time.Minute)

	r := NewRouter(middleware.NewAuthMiddleware(accounts), Handlers{
		Health:  health.NewHandler(map[string]health.Pinger{"store": store}),
		Metrics: prometheus.New(reg, m),
		Public:  []Handler{authhandler.NewHandler(accounts)},
		Protected: []Handler{
			rxhandler.NewHandler(assembler, authoring, document.NewRenderer(), nil),
			drafthandler.NewHandler(drafts),
			patienthandler.NewHandler(assembler),
			eventshandler.NewHandler(nil, 0),
		},
	}, logger.Nop(), RouterConfig{
		Mode:           gin.TestMode,
		RequestTimeout: 5 * time.Second,
		MaxBodyBytes:   1 << 16,
		RateLimit:      &middleware.RateLimiterConfig{Rate: 1000, Burst: 1000},
		CORSConfig:     middleware.DefaultCORSConfig(),
	})
	r.Setup()
	return r.Engine()
}

func call(e *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

func signUp(t *testing.T, e *gin.Engine, body string) *model.TokenResponse {
	t.Helper()
	w := call(e, http.MethodPost, "/api/v1/auth/signup", "", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var env struct {
		Data model.TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return &env.Data
}

func TestEndToEndPrescriptionFlow(t *testing.T) {
	e := newEngine(t)

	doctor := signUp(t, e, `{"email":"ada@example.com","password":"stethoscope1","full_name":"Ada Wong",`+
		`"role":"doctor","specialization":"Pulmonology"}`)
	patient := signUp(t, e, `{"email":"zoe@example.com","password":"correct-horse-1","full_name":"Zoe Park","role":"patient"}`)

	w := call(e, http.MethodGet, "/api/v1/patients", doctor.AccessToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Zoe Park")

	body := `{"patient_id":"` + patient.Profile.ID.String() + `","diagnosis":"Asthma",` +
		`"medications":[{"name":"Salbutamol","dosage":"100mcg","frequency":"as needed","duration":"30 days"}]}`
	w = call(e, http.MethodPost, "/api/v1/prescriptions", doctor.AccessToken, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderXRequestID))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = call(e, http.MethodGet, "/api/v1/prescriptions", patient.AccessToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []model.PrescriptionView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "Ada Wong", list.Data[0].DoctorLabel)

	assert.Equal(t, http.StatusForbidden, call(e, http.MethodPost, "/api/v1/prescriptions", patient.AccessToken, body).Code)
	assert.Equal(t, http.StatusUnauthorized, call(e, http.MethodGet, "/api/v1/prescriptions", "", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, call(e, http.MethodGet, "/api/v1/events", doctor.AccessToken, "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEngine(t)

	assert.Equal(t, http.StatusOK, call(e, http.MethodGet, "/api/v1/health/live", "", "").Code)
	assert.Equal(t, http.StatusOK, call(e, http.MethodGet, "/api/v1/health/ready", "", "").Code)

	w := call(e, http.MethodGet, "/api/v1/health/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `rx_api_http_requests_total{method="GET",path="/api/v1/health/ready",status="200"} 1`)
}

func TestBodyTooLarge(t *testing.T) {
	e := newEngine(t)
	big := `{"email":"` + strings.Repeat("a", 1<<16) + `"}`
	assert.Equal(t, http.StatusRequestEntityTooLarge, call(e, http.MethodPost, "/api/v1/auth/signin", "", big).Code)
}
