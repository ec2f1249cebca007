// internal/data/models.go
package data

import "time"

type DeviceStatus string

const (
	StatusOn      DeviceStatus = "on"
	StatusOff     DeviceStatus = "off"
	StatusStandby DeviceStatus = "standby"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the defined severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type AlertCategory string

const (
	AlertPowerSpike     AlertCategory = "power_spike"
	AlertTemperature    AlertCategory = "temperature_high"
	AlertDeviceOffline  AlertCategory = "device_offline"
	AlertMaintenance    AlertCategory = "maintenance"
	AlertCustom         AlertCategory = "custom"
	AlertEnergyOverload AlertCategory = "energy_overload"
)

// Valid reports whether c is one of the defined categories.
func (c AlertCategory) Valid() bool {
	switch c {
	case AlertPowerSpike, AlertTemperature, AlertDeviceOffline,
		AlertMaintenance, AlertCustom, AlertEnergyOverload:
		return true
	}
	return false
}

// Reading is one timestamped electrical measurement from a meter.
// Power is derived (current * voltage) at ingest time and never recomputed.
type Reading struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"deviceId"`
	UserID      string    `json:"userId"`
	Current     float64   `json:"current"`
	Voltage     float64   `json:"voltage"`
	Temperature float64   `json:"temperature"`
	Power       float64   `json:"power"`
	RecordedAt  time.Time `json:"recordedAt"`
}

// Device is a registered or auto-provisioned meter owned by a user.
type Device struct {
	ID          string       `json:"id"`
	DeviceID    string       `json:"deviceId"` // external identifier, unique
	UserID      string       `json:"userId"`
	Name        string       `json:"name"`
	Location    string       `json:"location,omitempty"`
	PowerRating float64      `json:"powerRating"`
	Status      DeviceStatus `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Alert is a persisted notification-worthy event, system- or user-generated.
type Alert struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	DeviceID   string         `json:"deviceId"`
	Message    string         `json:"message"`
	Category   AlertCategory  `json:"alertType"`
	Severity   Severity       `json:"severity"`
	IsRead     bool           `json:"isRead"`
	IsResolved bool           `json:"isResolved"`
	ResolvedAt *time.Time     `json:"resolvedAt,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// User carries the contact identifiers the notification fan-out needs.
// Account management itself lives in the user service, not here.
type User struct {
	ID        string   `json:"id"`
	Email     string   `json:"email,omitempty"`
	FCMTokens []string `json:"fcmTokens,omitempty"`
}

// Prediction is a stored AI (or mock fallback) forecast for a device.
type Prediction struct {
	ID                   string         `json:"id"`
	DeviceID             string         `json:"deviceId"`
	UserID               string         `json:"userId"`
	PredictedPower       float64        `json:"predictedPower"`
	PredictedCurrent     float64        `json:"predictedCurrent"`
	PredictedVoltage     float64        `json:"predictedVoltage"`
	PredictedTemperature float64        `json:"predictedTemperature"`
	Confidence           float64        `json:"confidence"`
	PredictionDate       time.Time      `json:"predictionDate"`
	ModelVersion         string         `json:"modelVersion"`
	InputData            map[string]any `json:"inputData,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
}

const MaxAlertMessageLen = 500
