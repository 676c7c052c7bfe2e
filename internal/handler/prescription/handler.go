package prescription

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/rx-api/internal/middleware"
	"github.com/jwalitptl/rx-api/internal/model"
	"github.com/jwalitptl/rx-api/internal/service/document"
	"github.com/jwalitptl/rx-api/internal/service/prescription"
	apperrors "github.com/jwalitptl/rx-api/pkg/errors"
	"github.com/jwalitptl/rx-api/pkg/httputil"
)

// Mailer delivers a rendered document. It is nil when mail is not configured.
type Mailer interface {
	Send(ctx context.Context, to string, doc *document.Document) error
}

type Handler struct {
	assembler *prescription.Assembler
	authoring *prescription.Authoring
	renderer  *document.Renderer
	mailer    Mailer
}

func NewHandler(assembler *prescription.Assembler, authoring *prescription.Authoring, renderer *document.Renderer, mailer Mailer) *Handler {
	return &Handler{
		assembler: assembler,
		authoring: authoring,
		renderer:  renderer,
		mailer:    mailer,
	}
}

// RegisterRoutes expects r to be behind Authenticate already.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	doctorOnly := auth.RequireRole(model.RoleDoctor)

	prescriptions := r.Group("/prescriptions", middleware.NoStore())
	{
		prescriptions.GET("", h.List)
		prescriptions.GET("/stats", h.Stats)
		prescriptions.GET("/:id", h.Get)
		prescriptions.POST("", doctorOnly, h.Create)
		prescriptions.PUT("/:id", doctorOnly, h.Update)
		prescriptions.GET("/:id/document", h.Document)
		prescriptions.POST("/:id/document/email", h.EmailDocument)
	}
}

func (h *Handler) List(c *gin.Context) {
	views, err := h.assembler.Assemble(c.Request.Context(), middleware.IdentityFrom(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, views)
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.assembler.Stats(c.Request.Context(), middleware.IdentityFrom(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, stats)
}

func (h *Handler) Get(c *gin.Context) {
	view, ok := h.view(c)
	if !ok {
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, view)
}

func (h *Handler) Create(c *gin.Context) {
	var req model.PrescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, middleware.BindingError(err))
		return
	}

	p, err := h.authoring.Create(c.Request.Context(), middleware.IdentityFrom(c), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, p)
}

func (h *Handler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req model.PrescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, middleware.BindingError(err))
		return
	}

	p, err := h.authoring.Update(c.Request.Context(), middleware.IdentityFrom(c), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, p)
}

// Document serves the rendered prescription as a download.
func (h *Handler) Document(c *gin.Context) {
	view, ok := h.view(c)
	if !ok {
		return
	}

	doc, err := h.renderer.Render(view)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, doc.Filename))
	c.Data(http.StatusOK, doc.ContentType, doc.Body)
}

type emailRequest struct {
	To string `json:"to" binding:"omitempty,email"`
}

// EmailDocument mails the rendered prescription, by default to the caller.
func (h *Handler) EmailDocument(c *gin.Context) {
	if h.mailer == nil {
		httputil.Abort(c, http.StatusServiceUnavailable, "document delivery is not configured")
		return
	}

	var req emailRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httputil.RespondWithError(c, middleware.BindingError(err))
			return
		}
	}

	view, ok := h.view(c)
	if !ok {
		return
	}
	doc, err := h.renderer.Render(view)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	to := req.To
	if to == "" {
		to = middleware.IdentityFrom(c).Email
	}
	if err := h.mailer.Send(c.Request.Context(), to, doc); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusAccepted, gin.H{"to": to, "filename": doc.Filename})
}

func (h *Handler) view(c *gin.Context) (*model.PrescriptionView, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}
	view, err := h.assembler.Get(c.Request.Context(), middleware.IdentityFrom(c), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return nil, false
	}
	return view, true
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation("invalid prescription id"))
		return uuid.Nil, false
	}
	return id, true
}
