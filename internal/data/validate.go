// internal/data/validate.go
package data

import (
	"fmt"
	"strings"
)

// ReadingInput is the raw ingest payload from a meter, over HTTP or MQTT.
// Numeric fields are pointers so a missing field is distinguishable from zero.
type ReadingInput struct {
	DeviceID    string   `json:"deviceId"`
	Current     *float64 `json:"current"`
	Voltage     *float64 `json:"voltage"`
	Temperature *float64 `json:"temperature"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every failing field of a payload, not just the first.
type ValidationError struct {
	Fields []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validate checks types and ranges; returns a *ValidationError on failure.
func (in ReadingInput) Validate() error {
	var ve ValidationError

	if strings.TrimSpace(in.DeviceID) == "" {
		ve.Fields = append(ve.Fields, FieldError{"deviceId", "device ID is required"})
	}
	switch {
	case in.Current == nil:
		ve.Fields = append(ve.Fields, FieldError{"current", "current reading is required"})
	case *in.Current < 0:
		ve.Fields = append(ve.Fields, FieldError{"current", "current cannot be negative"})
	}
	switch {
	case in.Voltage == nil:
		ve.Fields = append(ve.Fields, FieldError{"voltage", "voltage reading is required"})
	case *in.Voltage < 0:
		ve.Fields = append(ve.Fields, FieldError{"voltage", "voltage cannot be negative"})
	}
	if in.Temperature == nil {
		ve.Fields = append(ve.Fields, FieldError{"temperature", "temperature reading is required"})
	}

	if len(ve.Fields) > 0 {
		return &ve
	}
	return nil
}
