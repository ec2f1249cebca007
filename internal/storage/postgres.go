// internal/storage/postgres.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulkita2007/meter-system/internal/data"
)

// PostgresStore persists the domain records with hand-written SQL over a
// pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("database config error: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database not reachable: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// InitSchema creates the tables and the secondary indexes the query
// patterns rely on. The unique index on devices.device_id is what makes
// EnsureDevice race-free under concurrent first-contact ingests.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			power_rating DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS devices_device_id_idx ON devices (device_id)`,
		`CREATE TABLE IF NOT EXISTS readings (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			current DOUBLE PRECISION NOT NULL,
			voltage DOUBLE PRECISION NOT NULL,
			temperature DOUBLE PRECISION NOT NULL,
			power DOUBLE PRECISION NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS readings_device_time_idx ON readings (device_id, recorded_at DESC)`,
		`CREATE INDEX IF NOT EXISTS readings_user_time_idx ON readings (user_id, recorded_at DESC)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			message TEXT NOT NULL,
			category TEXT NOT NULL,
			severity TEXT NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			is_resolved BOOLEAN NOT NULL DEFAULT FALSE,
			resolved_at TIMESTAMPTZ,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS alerts_user_time_idx ON alerts (user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS alerts_device_time_idx ON alerts (device_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			fcm_tokens TEXT[] NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			predicted_power DOUBLE PRECISION NOT NULL,
			predicted_current DOUBLE PRECISION NOT NULL,
			predicted_voltage DOUBLE PRECISION NOT NULL,
			predicted_temperature DOUBLE PRECISION NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			prediction_date TIMESTAMPTZ NOT NULL,
			model_version TEXT NOT NULL,
			input_data JSONB NOT NULL DEFAULT '{}',
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS predictions_device_date_idx ON predictions (device_id, prediction_date DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema init: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) InsertReading(ctx context.Context, r *data.Reading) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO readings (id, device_id, user_id, current, voltage, temperature, power, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.DeviceID, r.UserID, r.Current, r.Voltage, r.Temperature, r.Power, r.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

const readingCols = `id, device_id, user_id, current, voltage, temperature, power, recorded_at`

func scanReadings(rows pgx.Rows) ([]data.Reading, error) {
	defer rows.Close()
	var out []data.Reading
	for rows.Next() {
		var r data.Reading
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.UserID, &r.Current, &r.Voltage, &r.Temperature, &r.Power, &r.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecentReadings(ctx context.Context, deviceID string, limit int) ([]data.Reading, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+readingCols+` FROM readings WHERE device_id = $1 ORDER BY recorded_at DESC LIMIT $2`,
		deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent readings: %w", err)
	}
	return scanReadings(rows)
}

func (s *PostgresStore) ReadingsByDevice(ctx context.Context, deviceID string, limit, offset int) ([]data.Reading, int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+readingCols+` FROM readings WHERE device_id = $1 ORDER BY recorded_at DESC LIMIT $2 OFFSET $3`,
		deviceID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("readings page: %w", err)
	}
	readings, err := scanReadings(rows)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM readings WHERE device_id = $1`, deviceID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("readings count: %w", err)
	}
	return readings, total, nil
}

func (s *PostgresStore) ReadingsSince(ctx context.Context, deviceID string, since time.Time, limit int) ([]data.Reading, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+readingCols+` FROM readings WHERE device_id = $1 AND recorded_at >= $2 ORDER BY recorded_at DESC LIMIT $3`,
		deviceID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("readings since: %w", err)
	}
	return scanReadings(rows)
}

func (s *PostgresStore) AveragePowerBetween(ctx context.Context, deviceID string, from, to time.Time) (float64, int, error) {
	query := `SELECT COALESCE(AVG(power), 0), COUNT(*) FROM readings WHERE recorded_at >= $1 AND recorded_at < $2`
	args := []any{from, to}
	if deviceID != "" {
		query += ` AND device_id = $3`
		args = append(args, deviceID)
	}
	var avg float64
	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&avg, &count); err != nil {
		return 0, 0, fmt.Errorf("average power: %w", err)
	}
	return avg, count, nil
}

const deviceCols = `id, device_id, user_id, name, location, power_rating, status, created_at`

func (s *PostgresStore) scanDevice(row pgx.Row) (*data.Device, error) {
	var d data.Device
	err := row.Scan(&d.ID, &d.DeviceID, &d.UserID, &d.Name, &d.Location, &d.PowerRating, &d.Status, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) GetDevice(ctx context.Context, deviceID string) (*data.Device, error) {
	return s.scanDevice(s.pool.QueryRow(ctx,
		`SELECT `+deviceCols+` FROM devices WHERE device_id = $1`, deviceID))
}

func (s *PostgresStore) EnsureDevice(ctx context.Context, d *data.Device) (*data.Device, bool, error) {
	id := d.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	// Insert-if-absent against the unique device_id index; a concurrent
	// ingest for the same identifier loses the insert and reads the winner.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO devices (id, device_id, user_id, name, location, power_rating, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (device_id) DO NOTHING`,
		id, d.DeviceID, d.UserID, d.Name, d.Location, d.PowerRating, d.Status, createdAt)
	if err != nil {
		return nil, false, fmt.Errorf("ensure device: %w", err)
	}
	stored, err := s.GetDevice(ctx, d.DeviceID)
	if err != nil {
		return nil, false, fmt.Errorf("ensure device readback: %w", err)
	}
	return stored, tag.RowsAffected() == 1, nil
}

const alertCols = `id, user_id, device_id, message, category, severity, is_read, is_resolved, resolved_at, metadata, created_at`

func scanAlert(row pgx.Row) (*data.Alert, error) {
	var a data.Alert
	var meta []byte
	err := row.Scan(&a.ID, &a.UserID, &a.DeviceID, &a.Message, &a.Category, &a.Severity,
		&a.IsRead, &a.IsResolved, &a.ResolvedAt, &meta, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.Metadata); err != nil {
			return nil, fmt.Errorf("alert metadata decode: %w", err)
		}
	}
	return &a, nil
}

func marshalMeta(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(m)
}

func (s *PostgresStore) InsertAlert(ctx context.Context, a *data.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	meta, err := marshalMeta(a.Metadata)
	if err != nil {
		return fmt.Errorf("alert metadata encode: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO alerts (id, user_id, device_id, message, category, severity, is_read, is_resolved, resolved_at, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.UserID, a.DeviceID, a.Message, a.Category, a.Severity,
		a.IsRead, a.IsResolved, a.ResolvedAt, meta, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAlert(ctx context.Context, id string) (*data.Alert, error) {
	return scanAlert(s.pool.QueryRow(ctx, `SELECT `+alertCols+` FROM alerts WHERE id = $1`, id))
}

func (s *PostgresStore) UpdateAlert(ctx context.Context, a *data.Alert) error {
	meta, err := marshalMeta(a.Metadata)
	if err != nil {
		return fmt.Errorf("alert metadata encode: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET is_read = $2, is_resolved = $3, resolved_at = $4, metadata = $5 WHERE id = $1`,
		a.ID, a.IsRead, a.IsResolved, a.ResolvedAt, meta)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AlertsByUser(ctx context.Context, userID string, f AlertFilter) ([]data.Alert, int, error) {
	where := `WHERE user_id = $1`
	args := []any{userID}
	if f.IsRead != nil {
		args = append(args, *f.IsRead)
		where += fmt.Sprintf(` AND is_read = $%d`, len(args))
	}
	if f.Severity != "" {
		args = append(args, f.Severity)
		where += fmt.Sprintf(` AND severity = $%d`, len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM alerts `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("alerts count: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM alerts %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		alertCols, where, len(args)-1, len(args))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("alerts page: %w", err)
	}
	defer rows.Close()

	var out []data.Alert
	for rows.Next() {
		var a data.Alert
		var meta []byte
		if err := rows.Scan(&a.ID, &a.UserID, &a.DeviceID, &a.Message, &a.Category, &a.Severity,
			&a.IsRead, &a.IsResolved, &a.ResolvedAt, &meta, &a.CreatedAt); err != nil {
			return nil, 0, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &a.Metadata); err != nil {
				return nil, 0, fmt.Errorf("alert metadata decode: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*data.User, error) {
	var u data.User
	err := s.pool.QueryRow(ctx, `SELECT id, email, fcm_tokens FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.FCMTokens)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) InsertPrediction(ctx context.Context, p *data.Prediction) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	input, err := marshalMeta(p.InputData)
	if err != nil {
		return fmt.Errorf("prediction input encode: %w", err)
	}
	meta, err := marshalMeta(p.Metadata)
	if err != nil {
		return fmt.Errorf("prediction metadata encode: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO predictions (id, device_id, user_id, predicted_power, predicted_current, predicted_voltage,
			predicted_temperature, confidence, prediction_date, model_version, input_data, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.DeviceID, p.UserID, p.PredictedPower, p.PredictedCurrent, p.PredictedVoltage,
		p.PredictedTemperature, p.Confidence, p.PredictionDate, p.ModelVersion, input, meta, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

func (s *PostgresStore) PredictionsByDevice(ctx context.Context, deviceID string, limit, offset int) ([]data.Prediction, int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, device_id, user_id, predicted_power, predicted_current, predicted_voltage,
			predicted_temperature, confidence, prediction_date, model_version, input_data, metadata, created_at
		 FROM predictions WHERE device_id = $1 ORDER BY prediction_date DESC LIMIT $2 OFFSET $3`,
		deviceID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("predictions page: %w", err)
	}
	defer rows.Close()

	var out []data.Prediction
	for rows.Next() {
		var p data.Prediction
		var input, meta []byte
		if err := rows.Scan(&p.ID, &p.DeviceID, &p.UserID, &p.PredictedPower, &p.PredictedCurrent, &p.PredictedVoltage,
			&p.PredictedTemperature, &p.Confidence, &p.PredictionDate, &p.ModelVersion, &input, &meta, &p.CreatedAt); err != nil {
			return nil, 0, err
		}
		if len(input) > 0 {
			if err := json.Unmarshal(input, &p.InputData); err != nil {
				return nil, 0, fmt.Errorf("prediction input decode: %w", err)
			}
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &p.Metadata); err != nil {
				return nil, 0, fmt.Errorf("prediction metadata decode: %w", err)
			}
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM predictions WHERE device_id = $1`, deviceID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("predictions count: %w", err)
	}
	return out, total, nil
}
