package export

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Csepi/cal3-sub003/internal/middleware"
	"github.com/Csepi/cal3-sub003/pkg/response"
)

// Handler serves reservation exports.
type Handler struct {
	exporter *Exporter
}

// NewHandler creates an export handler.
func NewHandler(exporter *Exporter) *Handler {
	return &Handler{exporter: exporter}
}

// Reservations handles GET /resources/:id/reservations/export?from=&to=.
func (h *Handler) Reservations(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	resourceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid id")
		return
	}
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		response.BadRequest(c, "from must be an RFC 3339 time")
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		response.BadRequest(c, "to must be an RFC 3339 time")
		return
	}
	file, err := h.exporter.Export(c.Request.Context(), userID, resourceID, from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, file)
}
