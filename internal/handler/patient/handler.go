package patient

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/rx-api/internal/middleware"
	"github.com/jwalitptl/rx-api/internal/model"
	"github.com/jwalitptl/rx-api/internal/service/prescription"
	"github.com/jwalitptl/rx-api/pkg/httputil"
)

// Handler serves the patient directory doctors pick from when authoring.
type Handler struct {
	assembler *prescription.Assembler
}

func NewHandler(assembler *prescription.Assembler) *Handler {
	return &Handler{assembler: assembler}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	r.GET("/patients", auth.RequireRole(model.RoleDoctor), middleware.NoStore(), h.ListPatients)
}

func (h *Handler) ListPatients(c *gin.Context) {
	patients, err := h.assembler.Patients(c.Request.Context(), middleware.IdentityFrom(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, patients)
}
