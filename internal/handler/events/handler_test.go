package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/rx-api/internal/middleware"
	"github.com/jwalitptl/rx-api/internal/model"
	"github.com/jwalitptl/rx-api/internal/service/notification"
	"github.com/jwalitptl/rx-api/pkg/logger"
	"github.com/jwalitptl/rx-api/pkg/messaging"
)

type fixedAuth struct{ identity *model.Identity }

func (a fixedAuth) Authenticate(context.Context, string) (*model.Identity, error) {
	return a.identity, nil
}

// streamRecorder satisfies the CloseNotifier gin's Stream expects and lets
// the test read the body while the handler is still writing.
type streamRecorder struct {
	*httptest.ResponseRecorder
	mu     sync.Mutex
	closed chan bool
}

func (r *streamRecorder) CloseNotify() <-chan bool { return r.closed }

func (r *streamRecorder) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(b)
}

func (r *streamRecorder) WriteString(s string) (int, error) {
	return r.Write([]byte(s))
}

func (r *streamRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Body.String()
}

func engine(hub *notification.Hub, identity *model.Identity) *gin.Engine {
	gin.SetMode(gin.TestMode)
	auth := middleware.NewAuthMiddleware(fixedAuth{identity})
	r := gin.New()
	NewHandler(hub, time.Hour).RegisterRoutes(r.Group("/api/v1", auth.Authenticate()), auth)
	return r
}

func TestStreamDeliversOwnEvents(t *testing.T) {
	hub := notification.NewHub(4, logger.Nop())
	patient := &model.Identity{UserID: uuid.New(), Role: model.RolePatient}
	r := engine(hub, patient)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer t")
	w := &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}

	done := make(chan struct{})
	go func() {
		r.ServeHTTP(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return hub.Listeners() == 1 }, time.Second, 5*time.Millisecond)

	row, err := model.NewPrescriptionEvent(model.EventPrescriptionCreated, &model.Prescription{
		Base:      model.Base{ID: uuid.New()},
		DoctorID:  uuid.New(),
		PatientID: patient.UserID,
		Status:    model.PrescriptionStatusActive,
	}, time.Now())
	require.NoError(t, err)
	payload, err := messaging.Encode(row)
	require.NoError(t, err)
	require.NoError(t, hub.Publish(context.Background(), row.EventType, payload))

	require.Eventually(t, func() bool {
		return strings.Contains(w.body(), "event:prescription.created")
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	assert.Contains(t, w.Body.String(), "event:prescription.created")
	assert.Contains(t, w.Body.String(), patient.UserID.String())
	assert.Equal(t, 0, hub.Listeners())
}

func TestStreamWithoutHub(t *testing.T) {
	r := engine(nil, &model.Identity{UserID: uuid.New(), Role: model.RoleDoctor})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.Header.Set("Authorization", "Bearer t")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
