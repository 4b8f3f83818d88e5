package permissions

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Csepi/cal3-sub003/internal/middleware"
	"github.com/Csepi/cal3-sub003/pkg/apperror"
	"github.com/Csepi/cal3-sub003/pkg/response"
)

// Handler exposes access decisions and the caller's reachable organizations and calendars.
type Handler struct {
	resolver *Resolver
	logger   *zap.Logger
}

// NewHandler creates a permissions handler.
func NewHandler(resolver *Resolver, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{resolver: resolver, logger: logger}
}

type accessResponse struct {
	Target Target `json:"target"`
	Decision
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	if apperror.KindOf(err) == apperror.KindInternal {
		h.logger.Error(op, zap.Error(err))
	}
	response.Error(c, err)
}

// Access handles GET /access?target_type=&target_id=.
func (h *Handler) Access(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	target, err := ParseTarget(c.Query("target_type"), c.Query("target_id"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	d, err := h.resolver.Evaluate(c.Request.Context(), userID, target)
	if err != nil {
		h.fail(c, "evaluate access", err)
		return
	}
	response.OK(c, accessResponse{Target: target, Decision: d})
}

// MyOrganizations handles GET /me/organizations.
func (h *Handler) MyOrganizations(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	list, err := h.resolver.AccessibleOrganizations(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, "list accessible organizations", err)
		return
	}
	response.OK(c, list)
}

// MyReservationCalendars handles GET /me/reservation-calendars.
func (h *Handler) MyReservationCalendars(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	list, err := h.resolver.AccessibleReservationCalendars(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, "list accessible reservation calendars", err)
		return
	}
	response.OK(c, list)
}
