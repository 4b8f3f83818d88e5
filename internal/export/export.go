// Package export renders a resource's reservations as CSV and publishes the file for download.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Csepi/cal3-sub003/internal/models"
	"github.com/Csepi/cal3-sub003/pkg/apperror"
	"github.com/Csepi/cal3-sub003/pkg/storage"
)

const contentType = "text/csv; charset=utf-8"

var header = []string{
	"id", "start_time", "end_time", "quantity", "status",
	"customer_name", "customer_email", "customer_phone", "notes", "created_by", "created_at",
}

// Lister returns the reservations a user may view. booking.Service satisfies it.
type Lister interface {
	ListReservations(ctx context.Context, userID, resourceID uuid.UUID, from, to time.Time) ([]models.Reservation, error)
}

// ObjectStore holds export files. storage.S3 satisfies it.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) error
	PresignDownload(ctx context.Context, key string) (string, time.Time, error)
}

// File describes a published export.
type File struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Rows      int       `json:"rows"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Exporter builds reservation exports.
type Exporter struct {
	lister Lister
	store  ObjectStore
	logger *zap.Logger
	now    func() time.Time
}

// NewExporter creates an exporter.
func NewExporter(lister Lister, store ObjectStore, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{lister: lister, store: store, logger: logger, now: time.Now}
}

// WriteCSV writes one header row and one row per reservation.
func WriteCSV(w io.Writer, list []models.Reservation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range list {
		createdBy := ""
		if r.CreatedBy != nil {
			createdBy = r.CreatedBy.String()
		}
		row := []string{
			r.ID.String(),
			r.StartTime.UTC().Format(time.RFC3339),
			r.EndTime.UTC().Format(time.RFC3339),
			strconv.Itoa(r.Quantity),
			string(r.Status),
			r.CustomerName,
			r.CustomerEmail,
			r.CustomerPhone,
			r.Notes,
			createdBy,
			r.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Export lists the reservations the user can view, uploads them as CSV and returns a download link.
func (e *Exporter) Export(ctx context.Context, userID, resourceID uuid.UUID, from, to time.Time) (*File, error) {
	list, err := e.lister.ListReservations(ctx, userID, resourceID, from, to)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, list); err != nil {
		return nil, apperror.Internal(fmt.Errorf("render csv: %w", err))
	}
	key := storage.ExportKey(resourceID.String(), e.now())
	if err := e.store.Upload(ctx, key, contentType, &buf); err != nil {
		e.logger.Error("upload export", zap.String("key", key), zap.Error(err))
		return nil, apperror.Internal(err)
	}
	url, expires, err := e.store.PresignDownload(ctx, key)
	if err != nil {
		e.logger.Error("presign export", zap.String("key", key), zap.Error(err))
		return nil, apperror.Internal(err)
	}
	e.logger.Info("reservations exported",
		zap.String("resource_id", resourceID.String()),
		zap.String("key", key),
		zap.Int("rows", len(list)))
	return &File{Key: key, URL: url, Rows: len(list), ExpiresAt: expires.UTC()}, nil
}
