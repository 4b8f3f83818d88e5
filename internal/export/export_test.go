package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Csepi/cal3-sub003/internal/middleware"
	"github.com/Csepi/cal3-sub003/internal/models"
	"github.com/Csepi/cal3-sub003/pkg/apperror"
)

type fakeLister struct {
	list []models.Reservation
	err  error
}

func (f fakeLister) ListReservations(context.Context, uuid.UUID, uuid.UUID, time.Time, time.Time) ([]models.Reservation, error) {
	return f.list, f.err
}

type fakeStore struct {
	objects map[string][]byte
	types   map[string]string
	fail    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *fakeStore) Upload(_ context.Context, key, contentType string, body io.Reader) error {
	if s.fail != nil {
		return s.fail
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.objects[key] = b
	s.types[key] = contentType
	return nil
}

func (s *fakeStore) PresignDownload(_ context.Context, key string) (string, time.Time, error) {
	return "https://exports.example.com/" + key + "?sig=abc", time.Now().Add(15 * time.Minute), nil
}

func sample() []models.Reservation {
	creator := uuid.New()
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	return []models.Reservation{
		{ID: uuid.New(), StartTime: start, EndTime: start.Add(time.Hour), Quantity: 2,
			Status: models.ReservationConfirmed, CreatedBy: &creator, CustomerName: "Ada, Countess", Notes: "line1\nline2"},
		{ID: uuid.New(), StartTime: start.Add(2 * time.Hour), EndTime: start.Add(3 * time.Hour), Quantity: 1,
			Status: models.ReservationWaitlist, CustomerEmail: "grace@example.com"},
	}
}

func TestWriteCSVQuotesFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sample()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, header, records[0])
	assert.Equal(t, "Ada, Countess", records[1][5])
	assert.Equal(t, "line1\nline2", records[1][8])
	assert.Equal(t, "2026-05-04T09:00:00Z", records[1][1])
	assert.Equal(t, "", records[2][9])
}

func TestExportUploadsAndPresigns(t *testing.T) {
	store := newFakeStore()
	resourceID := uuid.New()
	e := NewExporter(fakeLister{list: sample()}, store, nil)

	file, err := e.Export(context.Background(), uuid.New(), resourceID, time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, file.Rows)
	assert.True(t, strings.HasPrefix(file.Key, "exports/"+resourceID.String()+"/"))
	assert.Contains(t, file.URL, file.Key)
	assert.Equal(t, contentType, store.types[file.Key])
	assert.Contains(t, string(store.objects[file.Key]), "grace@example.com")
}

func TestExportPropagatesAccessErrors(t *testing.T) {
	store := newFakeStore()
	e := NewExporter(fakeLister{err: apperror.Forbidden("insufficient access")}, store, nil)

	_, err := e.Export(context.Background(), uuid.New(), uuid.New(), time.Now(), time.Now().Add(time.Hour))
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(err))
	assert.Empty(t, store.objects)

	e = NewExporter(fakeLister{}, &fakeStore{fail: errors.New("bucket missing")}, nil)
	_, err = e.Export(context.Background(), uuid.New(), uuid.New(), time.Now(), time.Now().Add(time.Hour))
	assert.Equal(t, apperror.KindInternal, apperror.KindOf(err))
}

func TestHandlerExport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(NewExporter(fakeLister{list: sample()}, newFakeStore(), nil))
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, uuid.New())
		c.Next()
	})
	r.GET("/resources/:id/reservations/export", h.Reservations)

	path := "/resources/" + uuid.NewString() + "/reservations/export"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path+"?from=2026-05-04T00:00:00Z&to=2026-05-05T00:00:00Z", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"rows":2`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path+"?from=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
