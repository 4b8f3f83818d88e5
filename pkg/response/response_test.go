package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Csepi/cal3-sub003/pkg/apperror"
)

func render(t *testing.T, err error) (int, Body) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Error(c, err)
	var body Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestErrorMapsKindAndDetails(t *testing.T) {
	err := fmt.Errorf("create: %w", apperror.New(apperror.KindCapacityExceeded, "only 1 of 3 units available").
		WithDetail("remaining", 1).WithDetail("capacity", 3))

	code, body := render(t, err)
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, body.Success)
	assert.Equal(t, "capacity_exceeded", body.Code)
	assert.Equal(t, "only 1 of 3 units available", body.Error)
	assert.EqualValues(t, 1, body.Details["remaining"])
	assert.EqualValues(t, 3, body.Details["capacity"])
}

func TestErrorHidesInternalCause(t *testing.T) {
	code, body := render(t, errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal error", body.Error)

	code, body = render(t, apperror.Internal(errors.New("disk full")))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal error", body.Error)
}
