package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/vent-logic-core/internal/discovery"
	"github.com/nerrad567/vent-logic-core/internal/infrastructure/database"
)

// ErrUnitNotFound is returned when a unit record does not exist.
var ErrUnitNotFound = errors.New("settings: unit not found")

// Unit is one persisted unit record.
type Unit struct {
	UnitID    string
	Serial    string // normalized, digits only
	Name      string
	IP        string
	Port      int
	MAC       string
	Firmware  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists unit records and per-unit key/value settings in the
// hub's SQLite database.
//
// Thread Safety:
//   - Safe for concurrent use; the database layer serializes writers.
type Store struct {
	db *database.DB
}

// NewStore creates a settings store over an open database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// SaveDiscovered inserts or refreshes a unit record from a discovery
// result. The serial is the stable key: a rediscovered unit keeps its
// unit id but adopts the fresh endpoint, name and firmware.
//
// Returns:
//   - string: The unit id (existing or newly assigned)
//   - error: If persistence fails
func (s *Store) SaveDiscovered(ctx context.Context, u discovery.DiscoveredUnit) (string, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var unitID string
	err := s.db.QueryRowContext(ctx,
		`SELECT unit_id FROM units WHERE serial = ?`, u.SerialNormalized).Scan(&unitID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		unitID = "vent-" + u.SerialNormalized
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO units (unit_id, serial, name, ip, port, mac, firmware, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			unitID, u.SerialNormalized, u.Name, u.IP, u.Port, u.MAC, u.Firmware, now, now)
		if err != nil {
			return "", fmt.Errorf("inserting unit %s: %w", u.SerialNormalized, err)
		}
		return unitID, nil

	case err != nil:
		return "", fmt.Errorf("looking up unit %s: %w", u.SerialNormalized, err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE units SET name = ?, ip = ?, port = ?, mac = ?, firmware = ?, updated_at = ?
		 WHERE unit_id = ?`,
		u.Name, u.IP, u.Port, u.MAC, u.Firmware, now, unitID)
	if err != nil {
		return "", fmt.Errorf("updating unit %s: %w", unitID, err)
	}
	return unitID, nil
}

// Unit loads one unit record by id.
func (s *Store) Unit(ctx context.Context, unitID string) (*Unit, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT unit_id, serial, name, ip, port, mac, firmware, created_at, updated_at
		 FROM units WHERE unit_id = ?`, unitID)
	return scanUnit(row)
}

// Units loads every persisted unit record.
func (s *Store) Units(ctx context.Context) ([]Unit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT unit_id, serial, name, ip, port, mac, firmware, created_at, updated_at
		 FROM units ORDER BY unit_id`)
	if err != nil {
		return nil, fmt.Errorf("listing units: %w", err)
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, *u)
	}
	return units, rows.Err()
}

// SaveEndpoint persists a relocated endpoint for a unit.
func (s *Store) SaveEndpoint(ctx context.Context, unitID, ip string, port int) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		`UPDATE units SET ip = ?, port = ?, updated_at = ? WHERE unit_id = ?`,
		ip, port, now, unitID)
	if err != nil {
		return fmt.Errorf("saving endpoint for %s: %w", unitID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnitNotFound, unitID)
	}
	return nil
}

// DeleteUnit removes a unit and, via the foreign key, all its settings.
func (s *Store) DeleteUnit(ctx context.Context, unitID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM units WHERE unit_id = ?`, unitID)
	if err != nil {
		return fmt.Errorf("deleting unit %s: %w", unitID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnitNotFound, unitID)
	}
	return nil
}

// SetSetting stores one numeric setting for a unit.
func (s *Store) SetSetting(ctx context.Context, unitID, key string, value float64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO unit_settings (unit_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (unit_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		unitID, key, strconv.FormatFloat(value, 'g', -1, 64), now)
	if err != nil {
		return fmt.Errorf("saving setting %s/%s: %w", unitID, key, err)
	}
	return nil
}

// SetSettings stores a batch of settings in one transaction.
func (s *Store) SetSettings(ctx context.Context, unitID string, settings map[string]float64) error {
	if len(settings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := time.Now().UTC().Format(time.RFC3339)
	for key, value := range settings {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO unit_settings (unit_id, key, value, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (unit_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			unitID, key, strconv.FormatFloat(value, 'g', -1, 64), now)
		if err != nil {
			return fmt.Errorf("saving setting %s/%s: %w", unitID, key, err)
		}
	}
	return tx.Commit()
}

// Setting loads one numeric setting.
//
// Returns:
//   - float64: The stored value
//   - bool: Whether the setting exists and parses
func (s *Store) Setting(ctx context.Context, unitID, key string) (float64, bool) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM unit_settings WHERE unit_id = ? AND key = ?`, unitID, key).Scan(&raw)
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Settings loads every setting for a unit.
func (s *Store) Settings(ctx context.Context, unitID string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM unit_settings WHERE unit_id = ?`, unitID)
	if err != nil {
		return nil, fmt.Errorf("listing settings for %s: %w", unitID, err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			out[key] = v
		}
	}
	return out, rows.Err()
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUnit(row scanner) (*Unit, error) {
	var (
		u                    Unit
		createdAt, updatedAt string
	)
	err := row.Scan(&u.UnitID, &u.Serial, &u.Name, &u.IP, &u.Port, &u.MAC, &u.Firmware, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning unit: %w", err)
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &u, nil
}
