// internal/storage/store.go
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/pulkita2007/meter-system/internal/data"
)

var ErrNotFound = errors.New("not found")

// AlertFilter narrows alert listings; nil/zero fields are ignored.
type AlertFilter struct {
	IsRead   *bool
	Severity data.Severity
	Limit    int
	Offset   int
}

// Store is the persistence contract for readings, devices, alerts,
// users and predictions. Implemented by the Postgres store and by the
// in-memory store used for tests and database-less development.
type Store interface {
	InsertReading(ctx context.Context, r *data.Reading) error
	// RecentReadings returns up to limit readings for a device, newest first.
	RecentReadings(ctx context.Context, deviceID string, limit int) ([]data.Reading, error)
	// ReadingsByDevice pages through a device's readings, newest first,
	// and returns the total count for the device.
	ReadingsByDevice(ctx context.Context, deviceID string, limit, offset int) ([]data.Reading, int, error)
	ReadingsSince(ctx context.Context, deviceID string, since time.Time, limit int) ([]data.Reading, error)
	// AveragePowerBetween averages power over [from, to); deviceID may be
	// empty to aggregate across all devices.
	AveragePowerBetween(ctx context.Context, deviceID string, from, to time.Time) (avg float64, count int, err error)

	GetDevice(ctx context.Context, deviceID string) (*data.Device, error)
	// EnsureDevice atomically inserts the device unless one with the same
	// DeviceID already exists, and returns the stored row. created reports
	// whether this call performed the insert.
	EnsureDevice(ctx context.Context, d *data.Device) (dev *data.Device, created bool, err error)

	InsertAlert(ctx context.Context, a *data.Alert) error
	GetAlert(ctx context.Context, id string) (*data.Alert, error)
	UpdateAlert(ctx context.Context, a *data.Alert) error
	AlertsByUser(ctx context.Context, userID string, f AlertFilter) ([]data.Alert, int, error)

	GetUser(ctx context.Context, id string) (*data.User, error)

	InsertPrediction(ctx context.Context, p *data.Prediction) error
	PredictionsByDevice(ctx context.Context, deviceID string, limit, offset int) ([]data.Prediction, int, error)
}
