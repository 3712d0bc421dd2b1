package bridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// observerTimeout bounds the database writes made from Observer callbacks,
// which carry no context of their own.
const observerTimeout = 5 * time.Second

// ServiceRecord is the persisted state of one known service.
type ServiceRecord struct {
	Service       string
	Autostart     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastStartedAt *time.Time
	LastPID       *int
	LastExitedAt  *time.Time
	LastExitCode  *int
}

// SQLiteStore persists known services in the bridge_services table.
//
// It implements ServiceStore for the Manager and Observer so it can record
// the last spawn and exit of each worker. It does not record events.
type SQLiteStore struct {
	db     *sql.DB
	logger Logger
}

// NewSQLiteStore creates a store over an open, migrated SQLite connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, logger: noopLogger{}}
}

// SetLogger sets the logger used for failures in observer callbacks.
func (s *SQLiteStore) SetLogger(logger Logger) {
	s.logger = logger
}

// MarkStarted upserts service with autostart enabled.
func (s *SQLiteStore) MarkStarted(ctx context.Context, service string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bridge_services (service, autostart, created_at, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(service) DO UPDATE SET autostart = 1, updated_at = excluded.updated_at`,
		service, now, now,
	)
	if err != nil {
		return fmt.Errorf("marking bridge %q started: %w", service, err)
	}
	return nil
}

// SetAutostart changes the autostart flag of a known service.
// Returns ErrServiceNotFound if the service has never been started.
func (s *SQLiteStore) SetAutostart(ctx context.Context, service string, enabled bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE bridge_services SET autostart = ?, updated_at = ? WHERE service = ?`,
		boolToInt(enabled), time.Now().UTC().Format(time.RFC3339), service,
	)
	if err != nil {
		return fmt.Errorf("updating autostart for %q: %w", service, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrServiceNotFound
	}
	return nil
}

// AutostartServices returns services flagged for autostart, sorted by name.
func (s *SQLiteStore) AutostartServices(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT service FROM bridge_services WHERE autostart = 1 ORDER BY service`)
	if err != nil {
		return nil, fmt.Errorf("querying autostart services: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only query

	var services []string
	for rows.Next() {
		var service string
		if err := rows.Scan(&service); err != nil {
			return nil, fmt.Errorf("scanning service: %w", err)
		}
		services = append(services, service)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating services: %w", err)
	}
	return services, nil
}

// Get returns the stored record for service.
func (s *SQLiteStore) Get(ctx context.Context, service string) (*ServiceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT service, autostart, created_at, updated_at,
			last_started_at, last_pid, last_exited_at, last_exit_code
		FROM bridge_services
		WHERE service = ?`, service)

	var (
		rec                     ServiceRecord
		autostart               int
		createdAt, updatedAt    string
		lastStarted, lastExited sql.NullString
		lastPID, lastExitCode   sql.NullInt64
	)
	err := row.Scan(&rec.Service, &autostart, &createdAt, &updatedAt,
		&lastStarted, &lastPID, &lastExited, &lastExitCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, fmt.Errorf("querying bridge %q: %w", service, err)
	}

	rec.Autostart = autostart != 0
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Written by this package
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Written by this package
	rec.LastStartedAt = parseNullTime(lastStarted)
	rec.LastExitedAt = parseNullTime(lastExited)
	if lastPID.Valid {
		pid := int(lastPID.Int64)
		rec.LastPID = &pid
	}
	if lastExitCode.Valid {
		code := int(lastExitCode.Int64)
		rec.LastExitCode = &code
	}
	return &rec, nil
}

// BridgeSpawned records the spawn time and PID.
func (s *SQLiteStore) BridgeSpawned(service string, pid int) {
	ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bridge_services (service, autostart, created_at, updated_at, last_started_at, last_pid)
		VALUES (?, 0, ?, ?, ?, ?)
		ON CONFLICT(service) DO UPDATE SET
			last_started_at = excluded.last_started_at,
			last_pid = excluded.last_pid,
			updated_at = excluded.updated_at`,
		service, now, now, now, pid,
	)
	if err != nil {
		s.logger.Warn("failed to record bridge spawn", "bridge", service, "error", err)
	}
}

// BridgeExited records the exit time and code.
func (s *SQLiteStore) BridgeExited(service string, code int, _ time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		UPDATE bridge_services
		SET last_exited_at = ?, last_exit_code = ?, updated_at = ?
		WHERE service = ?`,
		now, code, now, service,
	)
	if err != nil {
		s.logger.Warn("failed to record bridge exit", "bridge", service, "error", err)
	}
}

// BridgeSpawnFailed is a no-op; failed spawns are not persisted.
func (s *SQLiteStore) BridgeSpawnFailed(string, error) {}

// BridgeStatusChanged is a no-op; status is live state only.
func (s *SQLiteStore) BridgeStatusChanged(string, Status) {}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var (
	_ ServiceStore = (*SQLiteStore)(nil)
	_ Observer     = (*SQLiteStore)(nil)
)
