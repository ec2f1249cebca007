package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pulkita2007/meter-system/internal/data"
)

func insertReading(t *testing.T, s *MemoryStore, deviceID string, power float64, at time.Time) {
	t.Helper()
	if err := s.InsertReading(context.Background(), &data.Reading{
		DeviceID:   deviceID,
		Power:      power,
		RecordedAt: at,
	}); err != nil {
		t.Fatalf("InsertReading: %v", err)
	}
}

func TestEnsureDeviceCreatesOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, created, err := s.EnsureDevice(ctx, &data.Device{DeviceID: "meter-1", Name: "first"})
	if err != nil {
		t.Fatalf("EnsureDevice: %v", err)
	}
	if !created {
		t.Fatal("first EnsureDevice should report created")
	}

	second, created, err := s.EnsureDevice(ctx, &data.Device{DeviceID: "meter-1", Name: "second"})
	if err != nil {
		t.Fatalf("EnsureDevice: %v", err)
	}
	if created {
		t.Error("second EnsureDevice should not report created")
	}
	if second.ID != first.ID || second.Name != "first" {
		t.Errorf("existing device must win: got %+v", second)
	}
}

func TestRecentReadingsNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now().UTC()
	for i := 0; i < 4; i++ {
		insertReading(t, s, "meter-1", float64(i+1), base.Add(time.Duration(i)*time.Minute))
	}
	insertReading(t, s, "other", 99, base)

	got, err := s.RecentReadings(context.Background(), "meter-1", 3)
	if err != nil {
		t.Fatalf("RecentReadings: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []float64{4, 3, 2} {
		if got[i].Power != want {
			t.Errorf("got[%d].Power = %v, want %v", i, got[i].Power, want)
		}
	}
}

func TestReadingsByDevicePagination(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		insertReading(t, s, "meter-1", float64(i), base.Add(time.Duration(i)*time.Second))
	}

	page, total, err := s.ReadingsByDevice(context.Background(), "meter-1", 2, 2)
	if err != nil {
		t.Fatalf("ReadingsByDevice: %v", err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("total=%d len=%d, want 5/2", total, len(page))
	}

	empty, total, err := s.ReadingsByDevice(context.Background(), "meter-1", 2, 10)
	if err != nil {
		t.Fatalf("ReadingsByDevice: %v", err)
	}
	if total != 5 || len(empty) != 0 {
		t.Errorf("offset past end: total=%d len=%d, want 5/0", total, len(empty))
	}
}

func TestAveragePowerBetween(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	insertReading(t, s, "meter-1", 100, base)
	insertReading(t, s, "meter-1", 200, base.Add(time.Hour))
	insertReading(t, s, "meter-1", 999, base.Add(48*time.Hour)) // outside window

	avg, n, err := s.AveragePowerBetween(context.Background(), "meter-1", base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("AveragePowerBetween: %v", err)
	}
	if n != 2 || avg != 150 {
		t.Errorf("avg=%v n=%d, want 150/2", avg, n)
	}

	avg, n, err = s.AveragePowerBetween(context.Background(), "meter-1", base.Add(-48*time.Hour), base)
	if err != nil {
		t.Fatalf("AveragePowerBetween: %v", err)
	}
	if n != 0 || avg != 0 {
		t.Errorf("empty window: avg=%v n=%d, want 0/0", avg, n)
	}
}

func TestAlertsByUserFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	mustInsert := func(a *data.Alert) {
		if err := s.InsertAlert(ctx, a); err != nil {
			t.Fatalf("InsertAlert: %v", err)
		}
	}
	mustInsert(&data.Alert{UserID: "u1", Severity: data.SeverityHigh, IsRead: false, Message: "a"})
	mustInsert(&data.Alert{UserID: "u1", Severity: data.SeverityLow, IsRead: true, Message: "b"})
	mustInsert(&data.Alert{UserID: "u2", Severity: data.SeverityHigh, IsRead: false, Message: "c"})

	_, total, err := s.AlertsByUser(ctx, "u1", AlertFilter{})
	if err != nil {
		t.Fatalf("AlertsByUser: %v", err)
	}
	if total != 2 {
		t.Errorf("unfiltered total = %d, want 2", total)
	}

	unread := false
	got, total, err := s.AlertsByUser(ctx, "u1", AlertFilter{IsRead: &unread})
	if err != nil {
		t.Fatalf("AlertsByUser: %v", err)
	}
	if total != 1 || got[0].Message != "a" {
		t.Errorf("isRead filter: total=%d got=%+v", total, got)
	}

	got, total, err = s.AlertsByUser(ctx, "u1", AlertFilter{Severity: data.SeverityLow})
	if err != nil {
		t.Fatalf("AlertsByUser: %v", err)
	}
	if total != 1 || got[0].Message != "b" {
		t.Errorf("severity filter: total=%d got=%+v", total, got)
	}
}

func TestGetAlertReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := &data.Alert{UserID: "u1", Message: "m"}
	if err := s.InsertAlert(ctx, a); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}

	got, err := s.GetAlert(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	got.IsRead = true

	again, _ := s.GetAlert(ctx, a.ID)
	if again.IsRead {
		t.Error("mutating a fetched alert must not change the stored record")
	}
}

func TestNotFoundErrors(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.GetDevice(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDevice: got %v", err)
	}
	if _, err := s.GetAlert(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAlert: got %v", err)
	}
	if _, err := s.GetUser(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser: got %v", err)
	}
	if err := s.UpdateAlert(ctx, &data.Alert{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateAlert: got %v", err)
	}
}
