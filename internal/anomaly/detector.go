// internal/anomaly/detector.go
package anomaly

import (
	"context"
	"fmt"

	"github.com/pulkita2007/meter-system/internal/config"
	"github.com/pulkita2007/meter-system/internal/storage"
)

// Detector classifies a reading's power against a rolling average of the
// device's recent history. This is a fixed-window, fixed-multiplier
// heuristic, not a statistical model: false positives and negatives are
// expected, and the contract under test is the arithmetic.
type Detector struct {
	store      storage.Store
	window     int
	minHistory int
	multiplier float64
}

func NewDetector(store storage.Store, cfg *config.Config) *Detector {
	return &Detector{
		store:      store,
		window:     cfg.Spike.Window,
		minHistory: cfg.Spike.MinHistory,
		multiplier: cfg.Spike.Multiplier,
	}
}

// Decision records the values a spike classification was made from, so
// alerts can carry them as metadata.
type Decision struct {
	// Evaluated is false when history was too short to decide.
	Evaluated    bool
	Spike        bool
	CurrentPower float64
	AveragePower float64
	Threshold    float64
	SampleSize   int
}

// Check fetches the device's recent readings and decides whether power is
// a spike. Fewer than minHistory readings is a deliberate no-op, not an
// error.
func (d *Detector) Check(ctx context.Context, deviceID string, power float64) (Decision, error) {
	recent, err := d.store.RecentReadings(ctx, deviceID, d.window)
	if err != nil {
		return Decision{}, fmt.Errorf("fetch recent readings: %w", err)
	}

	dec := Decision{CurrentPower: power, SampleSize: len(recent)}
	if len(recent) < d.minHistory {
		return dec, nil
	}

	var sum float64
	for _, r := range recent {
		sum += r.Power
	}
	dec.Evaluated = true
	dec.AveragePower = sum / float64(len(recent))
	dec.Threshold = dec.AveragePower * d.multiplier
	dec.Spike = power > dec.Threshold // strictly greater
	return dec, nil
}

// Message renders the human-readable alert text for a spike decision.
func (dec Decision) Message() string {
	return fmt.Sprintf("Power spike detected! Current power: %.2fW (avg: %.2fW)",
		dec.CurrentPower, dec.AveragePower)
}

// Metadata exposes the raw values used in the decision for auditability.
func (dec Decision) Metadata() map[string]any {
	return map[string]any{
		"currentPower": dec.CurrentPower,
		"averagePower": dec.AveragePower,
		"threshold":    dec.Threshold,
		"sampleSize":   dec.SampleSize,
	}
}
