package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportKey(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 8, time.FixedZone("CET", 3600))
	key := ExportKey("7d2f", at)
	assert.Equal(t, "exports/7d2f/20260304T040607.000000008Z.csv", key)
}

func TestPresignDownloadAgainstCustomEndpoint(t *testing.T) {
	s, err := NewS3(context.Background(), S3Config{
		Region:               "eu-central-1",
		AccessKeyID:          "AKIDEXAMPLE",
		SecretAccessKey:      "secret",
		ExportsBucket:        "reservation-exports",
		Endpoint:             "http://localhost:9000",
		PresignExpireMinutes: 5,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, s.PresignExpire())

	url, expires, err := s.PresignDownload(context.Background(), "exports/r/1.csv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://localhost:9000/reservation-exports/exports/r/1.csv?"), url)
	assert.Contains(t, url, "X-Amz-Signature=")
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), expires, 5*time.Second)
}
