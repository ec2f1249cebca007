// internal/storage/memory.go
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulkita2007/meter-system/internal/data"
)

// MemoryStore keeps everything in process memory behind one mutex.
// Used by the test suites and when no database URL is configured.
type MemoryStore struct {
	mu sync.RWMutex

	// readings keeps append order == insertion order; devices is keyed
	// by the external DeviceID.
	readings    []data.Reading
	devices     map[string]*data.Device
	alerts      map[string]*data.Alert
	users       map[string]*data.User
	predictions []data.Prediction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[string]*data.Device),
		alerts:  make(map[string]*data.Alert),
		users:   make(map[string]*data.User),
	}
}

func (s *MemoryStore) InsertReading(_ context.Context, r *data.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	s.readings = append(s.readings, *r)
	return nil
}

func (s *MemoryStore) RecentReadings(_ context.Context, deviceID string, limit int) ([]data.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []data.Reading
	for i := len(s.readings) - 1; i >= 0 && len(out) < limit; i-- {
		if s.readings[i].DeviceID == deviceID {
			out = append(out, s.readings[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) ReadingsByDevice(_ context.Context, deviceID string, limit, offset int) ([]data.Reading, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []data.Reading
	for i := len(s.readings) - 1; i >= 0; i-- {
		if s.readings[i].DeviceID == deviceID {
			all = append(all, s.readings[i])
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *MemoryStore) ReadingsSince(_ context.Context, deviceID string, since time.Time, limit int) ([]data.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []data.Reading
	for i := len(s.readings) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		r := s.readings[i]
		if r.DeviceID == deviceID && !r.RecordedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) AveragePowerBetween(_ context.Context, deviceID string, from, to time.Time) (float64, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum float64
	var n int
	for _, r := range s.readings {
		if deviceID != "" && r.DeviceID != deviceID {
			continue
		}
		if r.RecordedAt.Before(from) || !r.RecordedAt.Before(to) {
			continue
		}
		sum += r.Power
		n++
	}
	if n == 0 {
		return 0, 0, nil
	}
	return sum / float64(n), n, nil
}

func (s *MemoryStore) GetDevice(_ context.Context, deviceID string) (*data.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) EnsureDevice(_ context.Context, d *data.Device) (*data.Device, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.devices[d.DeviceID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *d
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.devices[cp.DeviceID] = &cp
	out := cp
	return &out, true, nil
}

func (s *MemoryStore) InsertAlert(_ context.Context, a *data.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	s.alerts[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAlert(_ context.Context, id string) (*data.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) UpdateAlert(_ context.Context, a *data.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.ID]; !ok {
		return ErrNotFound
	}
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) AlertsByUser(_ context.Context, userID string, f AlertFilter) ([]data.Alert, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []data.Alert
	for _, a := range s.alerts {
		if a.UserID != userID {
			continue
		}
		if f.IsRead != nil && a.IsRead != *f.IsRead {
			continue
		}
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		all = append(all, *a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := f.Offset + f.Limit
	if f.Limit <= 0 || end > total {
		end = total
	}
	return all[f.Offset:end], total, nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*data.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// PutUser seeds a user record; test and dev-mode helper.
func (s *MemoryStore) PutUser(u *data.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	cp := *u
	s.users[cp.ID] = &cp
}

func (s *MemoryStore) InsertPrediction(_ context.Context, p *data.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.predictions = append(s.predictions, *p)
	return nil
}

func (s *MemoryStore) PredictionsByDevice(_ context.Context, deviceID string, limit, offset int) ([]data.Prediction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []data.Prediction
	for i := len(s.predictions) - 1; i >= 0; i-- {
		if s.predictions[i].DeviceID == deviceID {
			all = append(all, s.predictions[i])
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}
