// Package storage persists the agent's local state in SQLite: the player's
// credentials, sealed at rest, and a journal of scan attempts.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/playperu/geoquest/internal/auth"
	"github.com/playperu/geoquest/internal/geoquest"
)

// Store implements auth.CredentialStore and the scan journal.
type Store struct {
	db   *sql.DB
	seal *sealer
	now  func() time.Time
}

// New returns a store over an already migrated db. secret keys the
// credential seal; changing it makes stored credentials unreadable.
func New(db *sql.DB, secret string) (*Store, error) {
	s, err := newSealer(secret)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, seal: s, now: time.Now}, nil
}

// LoadCredentials returns auth.ErrNoCredentials when nothing is stored or
// the stored value was sealed under a different secret.
func (s *Store) LoadCredentials(ctx context.Context) (auth.Credentials, error) {
	var (
		username string
		sealed   []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT username, sealed FROM credentials WHERE id = 1
	`).Scan(&username, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Credentials{}, auth.ErrNoCredentials
	}
	if err != nil {
		return auth.Credentials{}, fmt.Errorf("loading credentials: %w", err)
	}

	password, err := s.seal.open(sealed, []byte(username))
	if errors.Is(err, errSealed) {
		return auth.Credentials{}, fmt.Errorf("credentials for %q: %w", username, auth.ErrNoCredentials)
	}
	if err != nil {
		return auth.Credentials{}, err
	}
	return auth.Credentials{Username: username, Password: string(password)}, nil
}

// SaveCredentials replaces the stored credentials.
func (s *Store) SaveCredentials(ctx context.Context, c auth.Credentials) error {
	sealed, err := s.seal.seal([]byte(c.Password), []byte(c.Username))
	if err != nil {
		return fmt.Errorf("sealing credentials: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, username, sealed, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			sealed = excluded.sealed,
			updated_at = excluded.updated_at
	`, c.Username, sealed, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	return nil
}

// RecordScan appends e to the journal. ID and ScannedAt are assigned here.
func (s *Store) RecordScan(ctx context.Context, e geoquest.JournalEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_journal (raw, kind, code, success, message, scanned_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.Raw, e.Kind, e.Code, boolInt(e.Success), e.Message, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("recording scan: %w", err)
	}
	return nil
}

// RecentScans returns up to limit journal entries, newest first.
func (s *Store) RecentScans(ctx context.Context, limit int) ([]geoquest.JournalEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, raw, kind, code, success, message, scanned_at
		FROM scan_journal
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}
	defer rows.Close()

	entries := []geoquest.JournalEntry{}
	for rows.Next() {
		var (
			e         geoquest.JournalEntry
			scannedAt string
		)
		if err := rows.Scan(&e.ID, &e.Raw, &e.Kind, &e.Code, &e.Success, &e.Message, &scannedAt); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, scannedAt); err == nil {
			e.ScannedAt = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
