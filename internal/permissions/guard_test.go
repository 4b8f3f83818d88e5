package permissions

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/Csepi/cal3-sub003/internal/middleware"
	"github.com/Csepi/cal3-sub003/internal/models"
)

func guardedRouter(f *fixture, user uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if user != uuid.Nil {
			c.Set(middleware.ContextUserID, user)
		}
		c.Next()
	})
	r.GET("/resources/:id", f.resolver.RequireAccess(ParamTarget(TargetResource, "id"), Edit), func(c *gin.Context) {
		d := c.MustGet(ContextDecision).(Decision)
		c.String(http.StatusOK, d.Level.String())
	})
	return r
}

func TestRequireAccess(t *testing.T) {
	f := newFixture(t, false, false)
	admin, member := uuid.New(), uuid.New()
	f.store.PutOrganizationAdmin(f.org.ID, admin)
	f.store.PutMembership(f.org.ID, member, models.MembershipMember)

	cases := []struct {
		name   string
		user   uuid.UUID
		path   string
		status int
	}{
		{"admin passes", admin, "/resources/" + f.res.ID.String(), http.StatusOK},
		{"member lacks edit", member, "/resources/" + f.res.ID.String(), http.StatusForbidden},
		{"unknown resource", admin, "/resources/" + uuid.NewString(), http.StatusNotFound},
		{"bad id", admin, "/resources/xyz", http.StatusBadRequest},
		{"anonymous", uuid.Nil, "/resources/" + f.res.ID.String(), http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			guardedRouter(f, tc.user).ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
			assert.Equal(t, tc.status, w.Code)
		})
	}
}
