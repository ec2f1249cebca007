// internal/ingest/service.go
package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pulkita2007/meter-system/internal/alerting"
	"github.com/pulkita2007/meter-system/internal/anomaly"
	"github.com/pulkita2007/meter-system/internal/broker"
	"github.com/pulkita2007/meter-system/internal/cache"
	"github.com/pulkita2007/meter-system/internal/data"
	"github.com/pulkita2007/meter-system/internal/storage"
)

// Broadcaster pushes accepted readings to connected dashboard clients.
type Broadcaster interface {
	BroadcastReading(reading any)
}

// Service is the shared reading-ingest pipeline, driven by both the HTTP
// handler and the MQTT bridge: validate, look up or provision the device,
// derive power, persist, evaluate for spikes, then fan out to the live
// feed, cache and event stream best-effort.
type Service struct {
	store    storage.Store
	detector *anomaly.Detector
	alerter  *alerting.Alerter
	hub      Broadcaster
	cache    *cache.ReadingCache
	events   *broker.Publisher
	logger   *log.Logger

	defaultUserID      string
	defaultPowerRating float64
}

func NewService(store storage.Store, detector *anomaly.Detector, alerter *alerting.Alerter,
	hub Broadcaster, readingCache *cache.ReadingCache, events *broker.Publisher,
	defaultUserID string, defaultPowerRating float64, logger *log.Logger) *Service {
	return &Service{
		store:              store,
		detector:           detector,
		alerter:            alerter,
		hub:                hub,
		cache:              readingCache,
		events:             events,
		logger:             logger,
		defaultUserID:      defaultUserID,
		defaultPowerRating: defaultPowerRating,
	}
}

// Ingest accepts one raw reading. Validation failures return a
// *data.ValidationError. An unknown device identifier never fails the
// call: a placeholder device is provisioned instead. Spike evaluation
// runs inline but its failure is logged and swallowed, so a persisted
// reading is always returned once the insert succeeds.
func (s *Service) Ingest(ctx context.Context, in data.ReadingInput) (*data.Reading, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	device, created, err := s.store.EnsureDevice(ctx, &data.Device{
		DeviceID:    in.DeviceID,
		UserID:      s.defaultUserID,
		Name:        fmt.Sprintf("ESP Device %s", in.DeviceID),
		Location:    "Auto-provisioned",
		PowerRating: s.defaultPowerRating,
		Status:      data.StatusOff,
	})
	if err != nil {
		return nil, fmt.Errorf("device lookup: %w", err)
	}
	if created {
		s.logger.Printf("auto-provisioned placeholder device: %s", in.DeviceID)
	}

	power := *in.Current * *in.Voltage

	// The spike decision is made against the history as it stood before
	// this reading, so the triggering sample never dilutes its own average.
	decision, detectErr := s.detector.Check(ctx, in.DeviceID, power)

	reading := &data.Reading{
		DeviceID:    in.DeviceID,
		UserID:      device.UserID,
		Current:     *in.Current,
		Voltage:     *in.Voltage,
		Temperature: *in.Temperature,
		Power:       power,
		RecordedAt:  time.Now().UTC(),
	}
	if err := s.store.InsertReading(ctx, reading); err != nil {
		return nil, fmt.Errorf("persist reading: %w", err)
	}

	switch {
	case detectErr != nil:
		s.logger.Printf("spike check failed for %s: %v", in.DeviceID, detectErr)
	case decision.Spike:
		s.raiseSpikeAlert(ctx, device, decision)
	}

	s.fanOut(ctx, reading)
	return reading, nil
}

func (s *Service) raiseSpikeAlert(ctx context.Context, device *data.Device, decision anomaly.Decision) {
	alert := &data.Alert{
		UserID:   device.UserID,
		DeviceID: device.DeviceID,
		Message:  decision.Message(),
		Category: data.AlertPowerSpike,
		Severity: data.SeverityHigh,
		Metadata: decision.Metadata(),
	}
	raised, err := s.alerter.Raise(ctx, alert)
	if err != nil {
		s.logger.Printf("spike alert for %s not recorded: %v", device.DeviceID, err)
		return
	}
	if s.events != nil {
		if err := s.events.PublishAlert(ctx, raised); err != nil {
			s.logger.Printf("alert event publish failed for %s: %v", device.DeviceID, err)
		}
	}
}

// fanOut pushes the accepted reading to the live feed, the last-reading
// cache and the event stream. All three are secondary to the persisted
// write and never fail the ingest.
func (s *Service) fanOut(ctx context.Context, reading *data.Reading) {
	if s.hub != nil {
		s.hub.BroadcastReading(reading)
	}
	if s.cache != nil {
		s.cache.SetLast(ctx, reading)
	}
	if s.events != nil {
		if err := s.events.PublishReading(ctx, reading); err != nil {
			s.logger.Printf("reading event publish failed for %s: %v", reading.DeviceID, err)
		}
	}
}
