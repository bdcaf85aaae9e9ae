package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ringtail/che/internal/models"
)

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set state db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set state db busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS machines (
	id TEXT PRIMARY KEY,
	machine_json TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize machines schema: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS machine_events (
	id TEXT PRIMARY KEY,
	machine_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	record_json TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize machine events schema: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS machine_events_by_machine ON machine_events (machine_id, seq)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize machine events index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) SaveMachine(ctx context.Context, m *models.Machine) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal machine: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO machines (id, machine_json, updated_at) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET machine_json = excluded.machine_json, updated_at = excluded.updated_at`,
		m.ID, string(payload), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save machine %q: %w", m.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT machine_json FROM machines WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query machine %q: %w", id, err)
	}
	var m models.Machine
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, fmt.Errorf("unmarshal machine %q: %w", id, err)
	}
	return &m, nil
}

func (s *SQLiteStore) DeleteMachine(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM machines WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete machine %q: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListMachines(ctx context.Context) ([]*models.Machine, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, machine_json FROM machines ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	defer rows.Close()

	var out []*models.Machine
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan machine row: %w", err)
		}
		var m models.Machine
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, fmt.Errorf("unmarshal machine %q: %w", id, err)
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate machine rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, rec models.EventRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal event record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO machine_events (id, machine_id, seq, record_json) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.MachineID, int64(rec.Seq), string(payload))
	if err != nil {
		return fmt.Errorf("append event %q: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, machineID string, limit int) ([]models.EventRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT record_json FROM (
	SELECT record_json, seq, id FROM machine_events
	WHERE machine_id = ?
	ORDER BY seq DESC, id DESC
	LIMIT ?
) ORDER BY seq, id`, machineID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events of %q: %w", machineID, err)
	}
	defer rows.Close()

	var out []models.EventRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		var rec models.EventRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal event record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return out, nil
}
