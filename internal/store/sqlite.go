// Package store provides storage backends for the bot.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/conecta2tel/conectabot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the permissions for database directories.
const DefaultDirPermissions = 0o755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the SQLite database at the DSN
// path and applies migrations.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveAttachment(att models.Attachment) error {
	_, err := s.db.Exec(
		`INSERT INTO attachments (media_id, local_path, mime_type, size_bytes, owner, purpose, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		att.MediaID, att.LocalPath, att.MimeType, att.SizeBytes, att.Owner, string(att.Purpose), att.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveAttachment failed", "error", err, "media_id", att.MediaID)
		return fmt.Errorf("failed to insert attachment %s: %w", att.MediaID, err)
	}
	slog.Debug("SQLiteStore SaveAttachment succeeded", "media_id", att.MediaID, "owner", att.Owner)
	return nil
}

func (s *SQLiteStore) ListAttachmentsByOwner(owner string) ([]models.Attachment, error) {
	rows, err := s.db.Query(
		`SELECT media_id, local_path, mime_type, size_bytes, purpose, created_at FROM attachments WHERE owner = ? ORDER BY created_at`,
		owner,
	)
	if err != nil {
		slog.Error("SQLiteStore ListAttachmentsByOwner query failed", "error", err, "owner", owner)
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	var out []models.Attachment
	for rows.Next() {
		att := models.Attachment{Owner: owner}
		var purpose string
		if err := rows.Scan(&att.MediaID, &att.LocalPath, &att.MimeType, &att.SizeBytes, &purpose, &att.CreatedAt); err != nil {
			slog.Error("SQLiteStore ListAttachmentsByOwner scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan attachment row: %w", err)
		}
		att.Purpose = models.AttachmentPurpose(purpose)
		out = append(out, att)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteAttachmentsBefore(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM attachments WHERE created_at < ?`, cutoff)
	if err != nil {
		slog.Error("SQLiteStore DeleteAttachmentsBefore failed", "error", err)
		return 0, fmt.Errorf("failed to delete old attachments: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.Debug("SQLiteStore DeleteAttachmentsBefore succeeded", "removed", n)
	return int(n), nil
}

func (s *SQLiteStore) CountAttachments() (int, int, error) {
	var total, receipts int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM attachments`).Scan(&total); err != nil {
		return 0, 0, fmt.Errorf("failed to count attachments: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM attachments WHERE purpose = ?`, string(models.PurposePaymentReceipt)).Scan(&receipts); err != nil {
		return 0, 0, fmt.Errorf("failed to count receipt attachments: %w", err)
	}
	return total, receipts, nil
}

func (s *SQLiteStore) SaveTicket(id string, req models.TicketRequest) error {
	var metadataJSON string
	if len(req.Metadata) > 0 {
		b, err := json.Marshal(req.Metadata)
		if err != nil {
			slog.Error("SQLiteStore SaveTicket metadata marshal failed", "error", err, "ticket_id", id)
			return err
		}
		metadataJSON = string(b)
	}
	_, err := s.db.Exec(
		`INSERT INTO tickets (id, customer_id, category, description, priority, source, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, req.CustomerID, req.Category, req.Description, req.Priority, req.Source, nilIfEmpty(metadataJSON), time.Now(),
	)
	if err != nil {
		slog.Error("SQLiteStore SaveTicket failed", "error", err, "ticket_id", id)
		return fmt.Errorf("failed to insert ticket %s: %w", id, err)
	}
	slog.Debug("SQLiteStore SaveTicket succeeded", "ticket_id", id)
	return nil
}

func (s *SQLiteStore) GetTicket(id string) (*TicketRecord, error) {
	var rec TicketRecord
	var metadataJSON sql.NullString
	err := s.db.QueryRow(
		`SELECT id, customer_id, category, description, priority, source, metadata, created_at FROM tickets WHERE id = ?`,
		id,
	).Scan(&rec.ID, &rec.Request.CustomerID, &rec.Request.Category, &rec.Request.Description,
		&rec.Request.Priority, &rec.Request.Source, &metadataJSON, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetTicket failed", "error", err, "ticket_id", id)
		return nil, err
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		rec.Request.Metadata = make(map[string]interface{})
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Request.Metadata); err != nil {
			slog.Error("SQLiteStore GetTicket metadata unmarshal failed", "error", err, "ticket_id", id)
			rec.Request.Metadata = nil
		}
	}
	return &rec, nil
}

func (s *SQLiteStore) SaveFollowUp(f FollowUp) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO follow_ups (id, recipient, kind, payload, run_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.Recipient, f.Kind, nilIfEmpty(f.Payload), f.RunAt, f.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveFollowUp failed", "error", err, "id", f.ID)
		return fmt.Errorf("failed to insert follow-up %s: %w", f.ID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteFollowUp(id string) error {
	_, err := s.db.Exec(`DELETE FROM follow_ups WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteFollowUp failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete follow-up %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ListPendingFollowUps() ([]FollowUp, error) {
	rows, err := s.db.Query(`SELECT id, recipient, kind, payload, run_at, created_at FROM follow_ups ORDER BY run_at`)
	if err != nil {
		slog.Error("SQLiteStore ListPendingFollowUps query failed", "error", err)
		return nil, fmt.Errorf("failed to query follow-ups: %w", err)
	}
	defer rows.Close()

	var out []FollowUp
	for rows.Next() {
		var f FollowUp
		var payload sql.NullString
		if err := rows.Scan(&f.ID, &f.Recipient, &f.Kind, &payload, &f.RunAt, &f.CreatedAt); err != nil {
			slog.Error("SQLiteStore ListPendingFollowUps scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan follow-up row: %w", err)
		}
		f.Payload = payload.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
