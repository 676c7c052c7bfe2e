package draft

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/rx-api/internal/middleware"
	"github.com/jwalitptl/rx-api/internal/model"
	"github.com/jwalitptl/rx-api/internal/service/prescription"
	apperrors "github.com/jwalitptl/rx-api/pkg/errors"
	"github.com/jwalitptl/rx-api/pkg/httputil"
)

type Handler struct {
	drafts *prescription.Drafts
}

func NewHandler(drafts *prescription.Drafts) *Handler {
	return &Handler{drafts: drafts}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	drafts := r.Group("/drafts", auth.RequireRole(model.RoleDoctor), middleware.NoStore())
	{
		drafts.POST("", h.Open)
		drafts.GET("/:id", h.Get)
		drafts.PATCH("/:id", h.Patch)
		drafts.DELETE("/:id", h.Discard)
		drafts.POST("/:id/medications", h.AddMedication)
		drafts.PUT("/:id/medications/:index", h.UpdateMedication)
		drafts.DELETE("/:id/medications/:index", h.RemoveMedication)
		drafts.POST("/:id/submit", h.Submit)
	}
}

type openRequest struct {
	PrescriptionID *uuid.UUID `json:"prescription_id"`
}

// patchRequest sets only the fields present.
type patchRequest struct {
	PatientID *uuid.UUID                `json:"patient_id"`
	Diagnosis *string                   `json:"diagnosis"`
	Notes     *string                   `json:"notes"`
	Status    *model.PrescriptionStatus `json:"status"`
}

func (h *Handler) Open(c *gin.Context) {
	var req openRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httputil.RespondWithError(c, middleware.BindingError(err))
			return
		}
	}

	d, err := h.drafts.Open(c.Request.Context(), middleware.IdentityFrom(c), req.PrescriptionID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, d)
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := draftID(c)
	if !ok {
		return
	}
	d, err := h.drafts.Get(middleware.IdentityFrom(c), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, d)
}

func (h *Handler) Patch(c *gin.Context) {
	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, middleware.BindingError(err))
		return
	}
	h.edit(c, func(d *prescription.Draft) error {
		if req.PatientID != nil {
			d.SetPatient(*req.PatientID)
		}
		if req.Diagnosis != nil {
			d.SetDiagnosis(*req.Diagnosis)
		}
		if req.Notes != nil {
			d.SetNotes(*req.Notes)
		}
		if req.Status != nil {
			return d.SetStatus(*req.Status)
		}
		return nil
	})
}

func (h *Handler) AddMedication(c *gin.Context) {
	var m model.Medication
	if err := c.ShouldBindJSON(&m); err != nil {
		httputil.RespondWithError(c, middleware.BindingError(err))
		return
	}
	h.edit(c, func(d *prescription.Draft) error {
		d.AddMedication(m)
		return nil
	})
}

func (h *Handler) UpdateMedication(c *gin.Context) {
	index, ok := medicationIndex(c)
	if !ok {
		return
	}
	var m model.Medication
	if err := c.ShouldBindJSON(&m); err != nil {
		httputil.RespondWithError(c, middleware.BindingError(err))
		return
	}
	h.edit(c, func(d *prescription.Draft) error {
		return d.UpdateMedication(index, m)
	})
}

func (h *Handler) RemoveMedication(c *gin.Context) {
	index, ok := medicationIndex(c)
	if !ok {
		return
	}
	h.edit(c, func(d *prescription.Draft) error {
		return d.RemoveMedication(index)
	})
}

func (h *Handler) Submit(c *gin.Context) {
	id, ok := draftID(c)
	if !ok {
		return
	}
	p, err := h.drafts.Submit(c.Request.Context(), middleware.IdentityFrom(c), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, p)
}

func (h *Handler) Discard(c *gin.Context) {
	id, ok := draftID(c)
	if !ok {
		return
	}
	if err := h.drafts.Discard(middleware.IdentityFrom(c), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) edit(c *gin.Context, fn func(*prescription.Draft) error) {
	id, ok := draftID(c)
	if !ok {
		return
	}
	d, err := h.drafts.Edit(middleware.IdentityFrom(c), id, fn)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, d)
}

func draftID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation("invalid draft id"))
		return uuid.Nil, false
	}
	return id, true
}

func medicationIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation("medication index must be a number"))
		return 0, false
	}
	return index, true
}
