package data

import (
	"errors"
	"strings"
	"testing"
)

func f(v float64) *float64 { return &v }

func TestValidateAcceptsZeroValues(t *testing.T) {
	in := ReadingInput{DeviceID: "meter-1", Current: f(0), Voltage: f(0), Temperature: f(0)}
	if err := in.Validate(); err != nil {
		t.Errorf("zero is a legal measurement, got %v", err)
	}
}

func TestValidateReportsEveryFailingField(t *testing.T) {
	in := ReadingInput{DeviceID: "  ", Current: f(-1), Voltage: nil, Temperature: nil}
	err := in.Validate()

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(ve.Fields) != 4 {
		t.Fatalf("fields = %d, want 4: %v", len(ve.Fields), ve.Fields)
	}
	fields := make(map[string]bool)
	for _, fe := range ve.Fields {
		fields[fe.Field] = true
	}
	for _, want := range []string{"deviceId", "current", "voltage", "temperature"} {
		if !fields[want] {
			t.Errorf("missing field error for %s", want)
		}
	}
	if !strings.Contains(ve.Error(), "current cannot be negative") {
		t.Errorf("error text = %q", ve.Error())
	}
}

func TestValidateDistinguishesMissingFromNegative(t *testing.T) {
	in := ReadingInput{DeviceID: "meter-1", Current: nil, Voltage: f(-5), Temperature: f(20)}
	err := in.Validate()

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	byField := make(map[string]string)
	for _, fe := range ve.Fields {
		byField[fe.Field] = fe.Message
	}
	if byField["current"] != "current reading is required" {
		t.Errorf("current message = %q", byField["current"])
	}
	if byField["voltage"] != "voltage cannot be negative" {
		t.Errorf("voltage message = %q", byField["voltage"])
	}
}
