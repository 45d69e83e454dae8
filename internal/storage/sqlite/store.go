// Package sqlite persists the relay's directory and offline queue.
//
// Key packages are append-only: every upload inserts a new row and
// fetches return the newest, so the full upload history stays
// auditable. Queue rows are deleted as they are drained.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound reports a directory lookup with no rows.
var ErrNotFound = errors.New("not found")

// Store wraps the relay database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the relay database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=busy_timeout(5000)"+ // Wait up to 5s on lock instead of returning SQLITE_BUSY immediately
		"&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connection pool - SQLite handles concurrent writes poorly
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SavePackage records a key package upload for clientID and returns
// the assigned package id.
func (s *Store) SavePackage(ctx context.Context, clientID string, pkg []byte) (string, error) {
	packageID := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO key_packages (package_id, client_id, package, created_at)
		 VALUES (?, ?, ?, ?)`,
		packageID, clientID, pkg, time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("save key package: %w", err)
	}
	return packageID, nil
}

// LatestPackage returns the most recently uploaded package for
// clientID, or ErrNotFound.
func (s *Store) LatestPackage(ctx context.Context, clientID string) ([]byte, error) {
	var pkg []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT package FROM key_packages WHERE client_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		clientID).Scan(&pkg)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

// Queued is one drained offline message.
type Queued struct {
	ID        int64
	MessageID string
	Sender    string
	Content   []byte
	CreatedAt int64
}

// Enqueue stores one copy of a message for an offline recipient.
func (s *Store) Enqueue(ctx context.Context, messageID, sender, recipient string, content []byte, createdAt int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_queue (message_id, sender, recipient, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		messageID, sender, recipient, content, createdAt)
	if err != nil {
		return fmt.Errorf("enqueue message: %w", err)
	}
	return nil
}

// DrainFor removes and returns everything queued for recipient in
// enqueue order. The single DELETE makes the handoff atomic: two
// concurrent drains for one recipient never see the same row.
func (s *Store) DrainFor(ctx context.Context, recipient string) ([]Queued, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM message_queue WHERE recipient = ?
		 RETURNING id, message_id, sender, content, created_at`,
		recipient)
	if err != nil {
		return nil, fmt.Errorf("drain queue: %w", err)
	}
	defer rows.Close()

	var drained []Queued
	for rows.Next() {
		var q Queued
		if err := rows.Scan(&q.ID, &q.MessageID, &q.Sender, &q.Content, &q.CreatedAt); err != nil {
			return nil, err
		}
		drained = append(drained, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING order is unspecified; insertion ids define the order.
	sort.Slice(drained, func(i, j int) bool { return drained[i].ID < drained[j].ID })
	return drained, nil
}

// QueueDepth reports how many messages are waiting for recipient.
func (s *Store) QueueDepth(ctx context.Context, recipient string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message_queue WHERE recipient = ?`,
		recipient).Scan(&n)
	return n, err
}
