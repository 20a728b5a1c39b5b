// Package store provides storage backends for the bot.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/conecta2tel/conectabot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL and applies migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveAttachment(att models.Attachment) error {
	_, err := s.db.Exec(
		`INSERT INTO attachments (media_id, local_path, mime_type, size_bytes, owner, purpose, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		att.MediaID, att.LocalPath, att.MimeType, att.SizeBytes, att.Owner, string(att.Purpose), att.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveAttachment failed", "error", err, "media_id", att.MediaID)
		return fmt.Errorf("failed to insert attachment %s: %w", att.MediaID, err)
	}
	return nil
}

func (s *PostgresStore) ListAttachmentsByOwner(owner string) ([]models.Attachment, error) {
	rows, err := s.db.Query(
		`SELECT media_id, local_path, mime_type, size_bytes, purpose, created_at FROM attachments WHERE owner = $1 ORDER BY created_at`,
		owner,
	)
	if err != nil {
		slog.Error("PostgresStore ListAttachmentsByOwner query failed", "error", err, "owner", owner)
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	var out []models.Attachment
	for rows.Next() {
		att := models.Attachment{Owner: owner}
		var purpose string
		if err := rows.Scan(&att.MediaID, &att.LocalPath, &att.MimeType, &att.SizeBytes, &purpose, &att.CreatedAt); err != nil {
			slog.Error("PostgresStore ListAttachmentsByOwner scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan attachment row: %w", err)
		}
		att.Purpose = models.AttachmentPurpose(purpose)
		out = append(out, att)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteAttachmentsBefore(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM attachments WHERE created_at < $1`, cutoff)
	if err != nil {
		slog.Error("PostgresStore DeleteAttachmentsBefore failed", "error", err)
		return 0, fmt.Errorf("failed to delete old attachments: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) CountAttachments() (int, int, error) {
	var total, receipts int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM attachments`).Scan(&total); err != nil {
		return 0, 0, fmt.Errorf("failed to count attachments: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM attachments WHERE purpose = $1`, string(models.PurposePaymentReceipt)).Scan(&receipts); err != nil {
		return 0, 0, fmt.Errorf("failed to count receipt attachments: %w", err)
	}
	return total, receipts, nil
}

func (s *PostgresStore) SaveTicket(id string, req models.TicketRequest) error {
	var metadataJSON string
	if len(req.Metadata) > 0 {
		b, err := json.Marshal(req.Metadata)
		if err != nil {
			slog.Error("PostgresStore SaveTicket metadata marshal failed", "error", err, "ticket_id", id)
			return err
		}
		metadataJSON = string(b)
	}
	_, err := s.db.Exec(
		`INSERT INTO tickets (id, customer_id, category, description, priority, source, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, req.CustomerID, req.Category, req.Description, req.Priority, req.Source, nilIfEmpty(metadataJSON), time.Now(),
	)
	if err != nil {
		slog.Error("PostgresStore SaveTicket failed", "error", err, "ticket_id", id)
		return fmt.Errorf("failed to insert ticket %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) GetTicket(id string) (*TicketRecord, error) {
	var rec TicketRecord
	var metadataJSON sql.NullString
	err := s.db.QueryRow(
		`SELECT id, customer_id, category, description, priority, source, metadata, created_at FROM tickets WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.Request.CustomerID, &rec.Request.Category, &rec.Request.Description,
		&rec.Request.Priority, &rec.Request.Source, &metadataJSON, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetTicket failed", "error", err, "ticket_id", id)
		return nil, err
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		rec.Request.Metadata = make(map[string]interface{})
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Request.Metadata); err != nil {
			slog.Error("PostgresStore GetTicket metadata unmarshal failed", "error", err, "ticket_id", id)
			rec.Request.Metadata = nil
		}
	}
	return &rec, nil
}

func (s *PostgresStore) SaveFollowUp(f FollowUp) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO follow_ups (id, recipient, kind, payload, run_at, created_at) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET recipient = $2, kind = $3, payload = $4, run_at = $5`,
		f.ID, f.Recipient, f.Kind, nilIfEmpty(f.Payload), f.RunAt, f.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveFollowUp failed", "error", err, "id", f.ID)
		return fmt.Errorf("failed to insert follow-up %s: %w", f.ID, err)
	}
	return nil
}

func (s *PostgresStore) DeleteFollowUp(id string) error {
	_, err := s.db.Exec(`DELETE FROM follow_ups WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteFollowUp failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete follow-up %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ListPendingFollowUps() ([]FollowUp, error) {
	rows, err := s.db.Query(`SELECT id, recipient, kind, payload, run_at, created_at FROM follow_ups ORDER BY run_at`)
	if err != nil {
		slog.Error("PostgresStore ListPendingFollowUps query failed", "error", err)
		return nil, fmt.Errorf("failed to query follow-ups: %w", err)
	}
	defer rows.Close()

	var out []FollowUp
	for rows.Next() {
		var f FollowUp
		var payload sql.NullString
		if err := rows.Scan(&f.ID, &f.Recipient, &f.Kind, &payload, &f.RunAt, &f.CreatedAt); err != nil {
			slog.Error("PostgresStore ListPendingFollowUps scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan follow-up row: %w", err)
		}
		f.Payload = payload.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// Close closes the PostgreSQL connection pool.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
