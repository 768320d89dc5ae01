package driven

import (
	"context"
	"errors"
	"time"

	"github.com/planhub/planhub/internal/domain/model"
)

// ErrIntegrationNotFound indicates a field or status update targeted a row
// that does not exist. Get returns (nil, nil) for missing rows instead.
var ErrIntegrationNotFound = errors.New("integration not found")

// IntegrationStore defines the driven port for integration persistence.
// Implementations store rows keyed by (org URL, project name) and must make
// every write a single atomic statement; the vault never holds multi-row
// transactions open.
//
// Secret columns are opaque strings at this boundary. Encryption and
// decryption happen in the layer above.
type IntegrationStore interface {
	// Upsert inserts the integration or fully replaces the existing row
	// with the same (OrgURL, ProjectName) key.
	Upsert(ctx context.Context, cfg model.IntegrationConfig) error

	// Get returns the integration for the given key, or (nil, nil) if no
	// such row exists.
	Get(ctx context.Context, orgURL, projectName string) (*model.IntegrationConfig, error)

	// List returns all integrations ordered by organization and project.
	List(ctx context.Context) ([]model.IntegrationConfig, error)

	// Delete removes the row for the given key. Deleting a missing row is
	// not an error.
	Delete(ctx context.Context, orgURL, projectName string) error

	// UpdateFields patches non-secret settings on an existing row without
	// touching the encrypted secret column. Returns ErrIntegrationNotFound
	// if the row does not exist.
	UpdateFields(ctx context.Context, orgURL, projectName string, patch model.ConfigPatch) error

	// UpdateStatus records the last-known connection status, optionally
	// with a sync timestamp. Returns ErrIntegrationNotFound if the row
	// does not exist.
	UpdateStatus(ctx context.Context, orgURL, projectName string, status model.ConnectionStatus, lastSyncAt *time.Time) error
}
