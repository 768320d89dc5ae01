package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/planhub/planhub/internal/domain/model"
	"github.com/planhub/planhub/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.IntegrationStore = (*IntegrationRepo)(nil)

// IntegrationRepo is the SQLite implementation of the IntegrationStore port.
// Secret columns are stored exactly as given; this layer never encrypts,
// decrypts, or inspects them.
type IntegrationRepo struct {
	db *DB
}

// NewIntegrationRepo creates a new IntegrationRepo.
func NewIntegrationRepo(db *DB) *IntegrationRepo {
	return &IntegrationRepo{db: db}
}

const integrationColumns = `id, org_url, project_name, auth_mode, encrypted_secret,
	client_id, tenant_id, webhook_url, webhook_secret,
	max_retry_attempts, base_delay_ms, is_enabled, connection_status,
	last_sync_at, created_at, updated_at`

// Upsert inserts cfg or fully replaces the row with the same
// (org_url, project_name) key in a single statement.
func (r *IntegrationRepo) Upsert(ctx context.Context, cfg model.IntegrationConfig) error {
	const query = `
		INSERT INTO integrations (
			org_url, project_name, auth_mode, encrypted_secret,
			client_id, tenant_id, webhook_url, webhook_secret,
			max_retry_attempts, base_delay_ms, is_enabled, connection_status,
			last_sync_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_url, project_name) DO UPDATE SET
			auth_mode = excluded.auth_mode,
			encrypted_secret = excluded.encrypted_secret,
			client_id = excluded.client_id,
			tenant_id = excluded.tenant_id,
			webhook_url = excluded.webhook_url,
			webhook_secret = excluded.webhook_secret,
			max_retry_attempts = excluded.max_retry_attempts,
			base_delay_ms = excluded.base_delay_ms,
			is_enabled = excluded.is_enabled,
			connection_status = excluded.connection_status,
			last_sync_at = excluded.last_sync_at,
			updated_at = excluded.updated_at`

	_, err := r.db.Writer.ExecContext(ctx, query,
		cfg.OrgURL,
		cfg.ProjectName,
		string(cfg.AuthMode),
		nullString(cfg.EncryptedSecret),
		nullString(cfg.ClientID),
		nullString(cfg.TenantID),
		nullString(cfg.WebhookURL),
		nullString(cfg.WebhookSecret),
		cfg.MaxRetryAttempts,
		cfg.BaseDelayMS,
		cfg.IsEnabled,
		string(cfg.ConnectionStatus),
		nullTime(cfg.LastSyncAt),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upsert integration %s/%s: %w", cfg.OrgURL, cfg.ProjectName, err)
	}
	return nil
}

// Get returns the integration for the given key, or (nil, nil) if absent.
func (r *IntegrationRepo) Get(ctx context.Context, orgURL, projectName string) (*model.IntegrationConfig, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE org_url = ? AND project_name = ?`

	row := r.db.Reader.QueryRowContext(ctx, query, orgURL, projectName)
	cfg, err := scanIntegration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get integration %s/%s: %w", orgURL, projectName, err)
	}
	return cfg, nil
}

// List returns all integrations ordered by organization and project.
func (r *IntegrationRepo) List(ctx context.Context) ([]model.IntegrationConfig, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations ORDER BY org_url, project_name`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	var configs []model.IntegrationConfig
	for rows.Next() {
		cfg, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		configs = append(configs, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate integrations: %w", err)
	}
	return configs, nil
}

// Delete removes the row for the given key; deleting a missing row is a no-op.
func (r *IntegrationRepo) Delete(ctx context.Context, orgURL, projectName string) error {
	const query = `DELETE FROM integrations WHERE org_url = ? AND project_name = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, orgURL, projectName); err != nil {
		return fmt.Errorf("delete integration %s/%s: %w", orgURL, projectName, err)
	}
	return nil
}

// UpdateFields patches the non-secret settings named in patch, leaving the
// encrypted_secret column untouched.
func (r *IntegrationRepo) UpdateFields(ctx context.Context, orgURL, projectName string, patch model.ConfigPatch) error {
	sets := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if patch.WebhookURL != nil {
		sets = append(sets, "webhook_url = ?")
		args = append(args, nullString(*patch.WebhookURL))
	}
	if patch.WebhookSecret != nil {
		sets = append(sets, "webhook_secret = ?")
		args = append(args, nullString(*patch.WebhookSecret))
	}
	if patch.MaxRetryAttempts != nil {
		sets = append(sets, "max_retry_attempts = ?")
		args = append(args, *patch.MaxRetryAttempts)
	}
	if patch.BaseDelayMS != nil {
		sets = append(sets, "base_delay_ms = ?")
		args = append(args, *patch.BaseDelayMS)
	}
	if patch.IsEnabled != nil {
		sets = append(sets, "is_enabled = ?")
		args = append(args, *patch.IsEnabled)
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(time.Now()))
	args = append(args, orgURL, projectName)

	query := "UPDATE integrations SET " + strings.Join(sets, ", ") + " WHERE org_url = ? AND project_name = ?"
	res, err := r.db.Writer.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update integration %s/%s: %w", orgURL, projectName, err)
	}
	return requireRow(res, orgURL, projectName)
}

// UpdateStatus records the connection status and, when given, the last sync
// timestamp.
func (r *IntegrationRepo) UpdateStatus(ctx context.Context, orgURL, projectName string, status model.ConnectionStatus, lastSyncAt *time.Time) error {
	var (
		res sql.Result
		err error
	)
	if lastSyncAt != nil {
		const query = `UPDATE integrations SET connection_status = ?, last_sync_at = ?, updated_at = ? WHERE org_url = ? AND project_name = ?`
		res, err = r.db.Writer.ExecContext(ctx, query, string(status), formatTime(*lastSyncAt), formatTime(time.Now()), orgURL, projectName)
	} else {
		const query = `UPDATE integrations SET connection_status = ?, updated_at = ? WHERE org_url = ? AND project_name = ?`
		res, err = r.db.Writer.ExecContext(ctx, query, string(status), formatTime(time.Now()), orgURL, projectName)
	}
	if err != nil {
		return fmt.Errorf("update status %s/%s: %w", orgURL, projectName, err)
	}
	return requireRow(res, orgURL, projectName)
}

// requireRow maps a zero-row UPDATE to ErrIntegrationNotFound.
func requireRow(res sql.Result, orgURL, projectName string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", orgURL, projectName, driven.ErrIntegrationNotFound)
	}
	return nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanIntegration(s scanner) (*model.IntegrationConfig, error) {
	var cfg model.IntegrationConfig
	var authMode, status, createdAt, updatedAt string
	var secret, clientID, tenantID, whURL, whSecret, lastSync sql.NullString

	err := s.Scan(
		&cfg.ID, &cfg.OrgURL, &cfg.ProjectName, &authMode, &secret,
		&clientID, &tenantID, &whURL, &whSecret,
		&cfg.MaxRetryAttempts, &cfg.BaseDelayMS, &cfg.IsEnabled, &status,
		&lastSync, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	cfg.AuthMode = model.AuthMode(authMode)
	cfg.ConnectionStatus = model.ConnectionStatus(status)
	cfg.EncryptedSecret = secret.String
	cfg.ClientID = clientID.String
	cfg.TenantID = tenantID.String
	cfg.WebhookURL = whURL.String
	cfg.WebhookSecret = whSecret.String

	if lastSync.Valid {
		t, err := parseTime(lastSync.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_sync_at: %w", err)
		}
		cfg.LastSyncAt = &t
	}
	if cfg.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if cfg.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &cfg, nil
}

// formatTime renders a timestamp in the canonical column format.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime accepts RFC3339 as written by this adapter plus SQLite's
// datetime() default format for rows created by column defaults.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}

// nullString maps "" to NULL so optional columns stay NULL rather than
// accumulating empty strings.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
