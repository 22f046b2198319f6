// Package record persists sync records, one per app tree.
package record

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/timkendrick/shunt/internal/metrics"
	"github.com/timkendrick/shunt/pkg/models"
)

// ErrCorrupt is returned when a stored record cannot be decoded.
var ErrCorrupt = errors.New("corrupt sync record")

// Store is a persisted-record store. Get returns nil, nil for an app tree
// that has never been stored.
type Store interface {
	Get(ctx context.Context, key models.AppKey) (*models.SyncRecord, error)
	Put(ctx context.Context, key models.AppKey, rec *models.SyncRecord) error
	Delete(ctx context.Context, key models.AppKey) error
	List(ctx context.Context) ([]models.AppKey, error)
	Close() error
}

// Encode serializes a record as gzip-compressed JSON.
func Encode(rec *models.SyncRecord) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(rec); err != nil {
		gz.Close()
		return nil, fmt.Errorf("encode record: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("compress record: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads a record written by Encode.
func Decode(r io.Reader) (*models.SyncRecord, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer gz.Close()

	var rec models.SyncRecord
	if err := json.NewDecoder(gz).Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &rec, nil
}

// observe records the outcome of one store operation.
func observe(backend, op string, start time.Time, err error) {
	metrics.RecordStoreOperation(backend, op, time.Since(start), err == nil)
}
