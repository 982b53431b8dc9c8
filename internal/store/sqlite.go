package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/greemqtt/greemqtt/internal/discovery"
)

// SQLite persists known device records in a SQLite database.
type SQLite struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: serialises writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		device_ip TEXT NOT NULL,
		key TEXT NOT NULL,
		is_gcm INTEGER NOT NULL DEFAULT 0,
		name TEXT NOT NULL DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_devices_ip ON devices(device_ip);
	`

	_, err := s.db.Exec(schema)
	return err
}

// ListKnown returns every stored device, most recently updated last.
func (s *SQLite) ListKnown(ctx context.Context) ([]discovery.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, device_ip, key, is_gcm, name, updated_at
		FROM devices
		ORDER BY updated_at, device_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []discovery.Device
	for rows.Next() {
		var (
			d       discovery.Device
			gcm     int64
			updated sql.NullTime
		)
		if err := rows.Scan(&d.ID, &d.IP, &d.Key, &gcm, &d.Name, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		d.GCM = gcm != 0
		if updated.Valid {
			d.DiscoveredAt = updated.Time
		}
		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}
	return devices, nil
}

// Save inserts or replaces the record for dev.ID. A device that moved to a
// new address keeps one row with the new address.
func (s *SQLite) Save(ctx context.Context, dev discovery.Device) error {
	if dev.ID == "" {
		return fmt.Errorf("device id is required")
	}

	updated := dev.DiscoveredAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, device_ip, key, is_gcm, name, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			device_ip = excluded.device_ip,
			key = excluded.key,
			is_gcm = excluded.is_gcm,
			name = excluded.name,
			updated_at = excluded.updated_at
	`, dev.ID, dev.IP, dev.Key, boolToInt(dev.GCM), dev.Name, updated.UTC())
	if err != nil {
		return fmt.Errorf("failed to save device %s: %w", dev.ID, err)
	}
	return nil
}

// Delete removes the record for id. Deleting an unknown id is not an error.
func (s *SQLite) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE device_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete device %s: %w", id, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
