package booking

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Csepi/cal3-sub003/internal/middleware"
	"github.com/Csepi/cal3-sub003/internal/notify"
	"github.com/Csepi/cal3-sub003/pkg/apperror"
	"github.com/Csepi/cal3-sub003/pkg/response"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

// EventSink receives the events of committed writes.
type EventSink interface {
	Dispatch(events []notify.Event)
}

// Handler serves reservation endpoints.
type Handler struct {
	svc    *Service
	events EventSink
	logger *zap.Logger
}

// NewHandler creates a reservations handler. events may be nil.
func NewHandler(svc *Service, events EventSink, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, events: events, logger: logger}
}

func (h *Handler) fail(c *gin.Context, err error) {
	if apperror.KindOf(err) == apperror.KindInternal {
		h.logger.Error("reservation request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	response.Error(c, err)
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.BadRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
	}
	return id, ok
}

// window parses the from/to query parameters as RFC 3339 times.
func window(c *gin.Context) (time.Time, time.Time, bool) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		response.BadRequest(c, "from must be an RFC 3339 time")
		return time.Time{}, time.Time{}, false
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		response.BadRequest(c, "to must be an RFC 3339 time")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func idempotencyKey(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
}

func (h *Handler) respond(c *gin.Context, status int, res *Result) {
	if res.Replayed {
		c.Header(HeaderReplayed, "true")
	} else if h.events != nil {
		h.events.Dispatch(res.Events)
	}
	c.JSON(status, response.Body{Success: true, Data: res})
}

// Create handles POST /resources/:id/reservations.
func (h *Handler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	resourceID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.CreateReservation(c.Request.Context(), userID, resourceID, req, idempotencyKey(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusCreated, res)
}

// List handles GET /resources/:id/reservations.
func (h *Handler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	resourceID, ok := pathID(c, "id")
	if !ok {
		return
	}
	from, to, ok := window(c)
	if !ok {
		return
	}
	list, err := h.svc.ListReservations(c.Request.Context(), userID, resourceID, from, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, list)
}

// Availability handles GET /resources/:id/availability.
func (h *Handler) Availability(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	resourceID, ok := pathID(c, "id")
	if !ok {
		return
	}
	from, to, ok := window(c)
	if !ok {
		return
	}
	a, err := h.svc.Availability(c.Request.Context(), userID, resourceID, from, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, a)
}

// Get handles GET /reservations/:id.
func (h *Handler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := h.svc.GetReservation(c.Request.Context(), userID, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, r)
}

// Update handles PATCH /reservations/:id.
func (h *Handler) Update(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.UpdateReservation(c.Request.Context(), userID, id, req, idempotencyKey(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, res)
}

// Cancel handles POST /reservations/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.svc.CancelReservation(c.Request.Context(), userID, id, idempotencyKey(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, res)
}

// PublicAvailability handles GET /public/booking/:token/availability.
func (h *Handler) PublicAvailability(c *gin.Context) {
	from, to, ok := window(c)
	if !ok {
		return
	}
	a, err := h.svc.PublicAvailability(c.Request.Context(), c.Param("token"), from, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, a)
}

// PublicCreate handles POST /public/booking/:token/reservations.
func (h *Handler) PublicCreate(c *gin.Context) {
	var req PublicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.CreatePublicReservation(c.Request.Context(), c.Param("token"), req, idempotencyKey(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusCreated, res)
}
