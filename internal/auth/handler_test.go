package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Csepi/cal3-sub003/internal/models"
	"github.com/Csepi/cal3-sub003/pkg/utils"
)

type fakeUsers map[string]*models.User

func (f fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	for _, u := range f {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (f fakeUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	if u, ok := f[strings.ToLower(email)]; ok {
		return u, nil
	}
	return nil, ErrUserNotFound
}

func newTestHandler(t *testing.T) (*Handler, *JWTService, *models.User) {
	t.Helper()
	hash, err := utils.HashPassword("s3cret!")
	require.NoError(t, err)
	user := &models.User{ID: uuid.New(), Email: "ops@example.com", Password: hash, FullName: "Ops", Role: models.PlatformRoleUser, CreatedAt: time.Now()}
	jwtSvc := NewJWTService("test-secret", 1)
	return NewHandler(fakeUsers{user.Email: user}, jwtSvc, nil), jwtSvc, user
}

func postLogin(h *Handler, body string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/auth/login", h.Login)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestLoginIssuesValidToken(t *testing.T) {
	h, jwtSvc, user := newTestHandler(t)

	w := postLogin(h, `{"email":"ops@example.com","password":"s3cret!"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	claims, err := jwtSvc.Validate(body.Data.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, string(models.PlatformRoleUser), claims.Role)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	h, _, _ := newTestHandler(t)
	assert.Equal(t, http.StatusUnauthorized, postLogin(h, `{"email":"ops@example.com","password":"nope"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, postLogin(h, `{"email":"ghost@example.com","password":"s3cret!"}`).Code)
	assert.Equal(t, http.StatusBadRequest, postLogin(h, `{"email":"not-an-email"}`).Code)
}

func TestValidateRejectsForeignSecret(t *testing.T) {
	user := &models.User{ID: uuid.New(), Email: "x@example.com", Role: models.PlatformRoleUser}
	token, err := NewJWTService("a", 1).Generate(user)
	require.NoError(t, err)
	_, err = NewJWTService("b", 1).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateExpiryAndIssuer(t *testing.T) {
	user := &models.User{ID: uuid.New(), Email: "x@example.com", Role: models.PlatformRoleSuperAdmin}
	svc := NewJWTService("secret", 1)
	start := time.Now()
	svc.now = func() time.Time { return start }

	token, err := svc.Generate(user)
	require.NoError(t, err)
	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.Equal(t, "super_admin", claims.Role)

	svc.now = func() time.Time { return start.Add(time.Hour + time.Minute) }
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           user.ID,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else", ExpiresAt: jwt.NewNumericDate(start.Add(time.Hour))},
	})
	signed, err := foreign.SignedString([]byte("secret"))
	require.NoError(t, err)
	svc.now = func() time.Time { return start }
	_, err = svc.Validate(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
