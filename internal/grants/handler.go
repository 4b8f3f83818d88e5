package grants

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Csepi/cal3-sub003/internal/middleware"
	"github.com/Csepi/cal3-sub003/internal/models"
	"github.com/Csepi/cal3-sub003/pkg/apperror"
	"github.com/Csepi/cal3-sub003/pkg/response"
)

// Handler serves grant management endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a grants handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

type adminRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

type roleRequest struct {
	UserID uuid.UUID           `json:"user_id" binding:"required"`
	Role   models.CalendarRole `json:"role" binding:"required"`
}

func (h *Handler) fail(c *gin.Context, err error) {
	if apperror.KindOf(err) == apperror.KindInternal {
		h.logger.Error("grant request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	response.Error(c, err)
}

// ids reads the actor and the named path parameters.
func ids(c *gin.Context, params ...string) (uuid.UUID, []uuid.UUID, bool) {
	actor, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return uuid.Nil, nil, false
	}
	out := make([]uuid.UUID, 0, len(params))
	for _, p := range params {
		id, err := uuid.Parse(c.Param(p))
		if err != nil {
			response.BadRequest(c, "invalid "+p)
			return uuid.Nil, nil, false
		}
		out = append(out, id)
	}
	return actor, out, true
}

// GrantAdmin handles POST /organizations/:id/admins.
func (h *Handler) GrantAdmin(c *gin.Context) {
	actor, p, ok := ids(c, "id")
	if !ok {
		return
	}
	var req adminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	added, err := h.svc.GrantOrganizationAdmin(c.Request.Context(), actor, p[0], req.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, gin.H{"organization_id": p[0], "user_id": req.UserID, "auto_assigned_roles": added})
}

// RevokeAdmin handles DELETE /organizations/:id/admins/:userId.
func (h *Handler) RevokeAdmin(c *gin.Context) {
	actor, p, ok := ids(c, "id", "userId")
	if !ok {
		return
	}
	removed, err := h.svc.RevokeOrganizationAdmin(c.Request.Context(), actor, p[0], p[1])
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"organization_id": p[0], "user_id": p[1], "auto_assigned_roles_removed": removed})
}

// AssignRole handles POST /reservation-calendars/:id/roles.
func (h *Handler) AssignRole(c *gin.Context) {
	actor, p, ok := ids(c, "id")
	if !ok {
		return
	}
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	role, err := h.svc.AssignCalendarRole(c.Request.Context(), actor, p[0], req.UserID, req.Role)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, role)
}

// RemoveRole handles DELETE /reservation-calendars/:id/roles/:userId.
func (h *Handler) RemoveRole(c *gin.Context) {
	actor, p, ok := ids(c, "id", "userId")
	if !ok {
		return
	}
	if err := h.svc.RemoveCalendarRole(c.Request.Context(), actor, p[0], p[1]); err != nil {
		h.fail(c, err)
		return
	}
	response.NoContent(c)
}

// SyncAdmins handles POST /reservation-calendars/:id/sync-admins.
func (h *Handler) SyncAdmins(c *gin.Context) {
	actor, p, ok := ids(c, "id")
	if !ok {
		return
	}
	added, err := h.svc.SyncCalendarAdmins(c.Request.Context(), actor, p[0])
	if err != nil {
		h.fail(c, err)
		return
	}
	if added == nil {
		added = []uuid.UUID{}
	}
	response.OK(c, gin.H{"reservation_calendar_id": p[0], "added": added})
}

// EnablePublicBooking handles POST /resources/:id/public-booking.
func (h *Handler) EnablePublicBooking(c *gin.Context) {
	actor, p, ok := ids(c, "id")
	if !ok {
		return
	}
	pb, err := h.svc.EnablePublicBooking(c.Request.Context(), actor, p[0])
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, pb)
}

// DisablePublicBooking handles DELETE /resources/:id/public-booking.
func (h *Handler) DisablePublicBooking(c *gin.Context) {
	actor, p, ok := ids(c, "id")
	if !ok {
		return
	}
	pb, err := h.svc.DisablePublicBooking(c.Request.Context(), actor, p[0])
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, pb)
}
