package permissions

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Csepi/cal3-sub003/internal/middleware"
	"github.com/Csepi/cal3-sub003/pkg/apperror"
	"github.com/Csepi/cal3-sub003/pkg/response"
)

// ContextDecision is the gin context key holding the Decision of RequireAccess.
const ContextDecision = "permission_decision"

// TargetFunc extracts the permission target from a request.
type TargetFunc func(c *gin.Context) (Target, error)

// ParamTarget reads the target ID from a path parameter.
func ParamTarget(kind TargetKind, param string) TargetFunc {
	return func(c *gin.Context) (Target, error) {
		id, err := uuid.Parse(c.Param(param))
		if err != nil {
			return Target{}, apperror.InvalidRequest("invalid " + param)
		}
		return Target{Kind: kind, ID: id}, nil
	}
}

// RequireAccess aborts the request unless the authenticated user resolves at least min on the target.
func (r *Resolver) RequireAccess(target TargetFunc, min AccessLevel) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		t, err := target(c)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		d, err := r.Evaluate(c.Request.Context(), userID, t)
		if err != nil {
			if apperror.KindOf(err) == apperror.KindInternal {
				r.logger.Error("evaluate permission", zap.String("target", t.String()), zap.Error(err))
			}
			response.Error(c, err)
			c.Abort()
			return
		}
		if !d.Allows(min) {
			response.Error(c, apperror.Forbidden("insufficient access").WithDetail("required", min.String()))
			c.Abort()
			return
		}
		c.Set(ContextDecision, d)
		c.Next()
	}
}
