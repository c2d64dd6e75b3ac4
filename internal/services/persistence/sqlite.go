package persistence

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/LeonardoBeccarini/farmtech/internal/model/entities"
)

const timeLayout = time.RFC3339Nano

// Store keeps areas, sensors, readings and pump adjustments in SQLite.
type Store struct {
	db *sql.DB
}

// ReadingRow is one stored sensor value joined with its sensor kind.
type ReadingRow struct {
	ID         int64               `json:"id"`
	SensorID   int64               `json:"sensor_id"`
	SensorKind entities.SensorKind `json:"sensor_kind"`
	Value      float64             `json:"value"`
	Unit       string              `json:"unit"`
	Timestamp  time.Time           `json:"timestamp"`
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := s.seed(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS areas (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sensors (
		id INTEGER PRIMARY KEY,
		kind TEXT NOT NULL,
		area_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		unit TEXT NOT NULL,
		FOREIGN KEY (area_id) REFERENCES areas(id)
	);

	CREATE TABLE IF NOT EXISTS sensor_readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sensor_id INTEGER NOT NULL,
		ts TEXT NOT NULL,
		value REAL NOT NULL,
		unit TEXT NOT NULL,
		FOREIGN KEY (sensor_id) REFERENCES sensors(id)
	);

	CREATE TABLE IF NOT EXISTS resource_adjustments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		area_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		pump_state TEXT NOT NULL,
		reference_reading_id INTEGER,
		ts TEXT NOT NULL,
		FOREIGN KEY (area_id) REFERENCES areas(id),
		FOREIGN KEY (reference_reading_id) REFERENCES sensor_readings(id)
	);

	CREATE INDEX IF NOT EXISTS idx_readings_sensor ON sensor_readings(sensor_id);
	CREATE INDEX IF NOT EXISTS idx_adjustments_area ON resource_adjustments(area_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) seed() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO areas (id, name) VALUES (?, ?)`, entities.DefaultAreaID, "Test Area"); err != nil {
		return err
	}
	for _, sn := range entities.DefaultSensors {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO sensors (id, kind, area_id, status, unit) VALUES (?, ?, ?, ?, ?)`,
			sn.ID, string(sn.Kind), sn.AreaID, string(sn.Status), sn.Unit); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// InsertReading stores one value and returns its row id.
func (s *Store) InsertReading(ctx context.Context, sensorID int64, value float64, unit string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sensor_readings (sensor_id, ts, value, unit) VALUES (?, ?, ?, ?)`,
		sensorID, at.UTC().Format(timeLayout), value, unit)
	if err != nil {
		return 0, fmt.Errorf("insert reading for sensor %d: %w", sensorID, err)
	}
	return res.LastInsertId()
}

// InsertAdjustment stores a pump actuation and returns its row id.
func (s *Store) InsertAdjustment(ctx context.Context, a entities.Adjustment) (int64, error) {
	var ref sql.NullInt64
	if a.ReferenceReadingID != nil {
		ref = sql.NullInt64{Int64: *a.ReferenceReadingID, Valid: true}
	}
	ts := a.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO resource_adjustments (area_id, type, pump_state, reference_reading_id, ts) VALUES (?, ?, ?, ?, ?)`,
		a.AreaID, string(a.Type), string(entities.PumpStateOf(a.PumpOn)), ref, ts.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("insert adjustment for area %d: %w", a.AreaID, err)
	}
	return res.LastInsertId()
}

// LatestReadings returns up to limit rows, newest first.
func (s *Store) LatestReadings(ctx context.Context, limit int) ([]ReadingRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.sensor_id, s.kind, r.value, r.unit, r.ts
		FROM sensor_readings r
		JOIN sensors s ON s.id = r.sensor_id
		ORDER BY r.id DESC
		LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	out := []ReadingRow{}
	for rows.Next() {
		var (
			r    ReadingRow
			kind string
			ts   string
		)
		if err := rows.Scan(&r.ID, &r.SensorID, &kind, &r.Value, &r.Unit, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.SensorKind = entities.SensorKind(kind)
		if r.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("reading %d: bad timestamp %q: %w", r.ID, ts, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestAdjustments returns up to limit adjustments, newest first.
func (s *Store) LatestAdjustments(ctx context.Context, limit int) ([]entities.Adjustment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, area_id, type, pump_state, reference_reading_id, ts
		FROM resource_adjustments
		ORDER BY id DESC
		LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query adjustments: %w", err)
	}
	defer rows.Close()

	out := []entities.Adjustment{}
	for rows.Next() {
		var (
			a         entities.Adjustment
			typ, pump string
			ref       sql.NullInt64
			ts        string
		)
		if err := rows.Scan(&a.ID, &a.AreaID, &typ, &pump, &ref, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		a.Type = entities.AdjustmentType(typ)
		a.PumpOn = entities.PumpState(pump) == entities.PumpOn
		if ref.Valid {
			id := ref.Int64
			a.ReferenceReadingID = &id
		}
		if a.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("adjustment %d: bad timestamp %q: %w", a.ID, ts, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Sensors lists the configured sensors.
func (s *Store) Sensors(ctx context.Context) ([]entities.Sensor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, area_id, status, unit FROM sensors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensors: %w", err)
	}
	defer rows.Close()

	var out []entities.Sensor
	for rows.Next() {
		var (
			sn           entities.Sensor
			kind, status string
		)
		if err := rows.Scan(&sn.ID, &kind, &sn.AreaID, &status, &sn.Unit); err != nil {
			return nil, fmt.Errorf("failed to scan sensor: %w", err)
		}
		sn.Kind = entities.SensorKind(kind)
		sn.Status = entities.SensorStatus(status)
		out = append(out, sn)
	}
	return out, rows.Err()
}

// ClearHistory deletes readings and adjustments; areas and sensors stay.
func (s *Store) ClearHistory(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM resource_adjustments`); err != nil {
		return fmt.Errorf("clear adjustments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sensor_readings`); err != nil {
		return fmt.Errorf("clear readings: %w", err)
	}
	return tx.Commit()
}

var csvHeader = []string{"id", "sensor_id", "sensor_kind", "timestamp", "value", "unit"}

// ExportReadingsCSV writes every stored reading in id order and returns the row count.
func (s *Store) ExportReadingsCSV(ctx context.Context, w io.Writer) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.sensor_id, s.kind, r.ts, r.value, r.unit
		FROM sensor_readings r
		JOIN sensors s ON s.id = r.sensor_id
		ORDER BY r.id`)
	if err != nil {
		return 0, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}
	n := 0
	for rows.Next() {
		var (
			id, sensorID   int64
			kind, ts, unit string
			value          float64
		)
		if err := rows.Scan(&id, &sensorID, &kind, &ts, &value, &unit); err != nil {
			return n, fmt.Errorf("failed to scan reading: %w", err)
		}
		rec := []string{
			strconv.FormatInt(id, 10),
			strconv.FormatInt(sensorID, 10),
			kind,
			ts,
			strconv.FormatFloat(value, 'f', -1, 64),
			unit,
		}
		if err := cw.Write(rec); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	cw.Flush()
	return n, cw.Error()
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
