// Package application wires the domain ports into the services the driving
// adapters call.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/planhub/planhub/internal/domain/model"
	"github.com/planhub/planhub/internal/domain/port/driven"
	"github.com/planhub/planhub/internal/encrypt"
)

// ErrInvalidSecretFormat indicates a secret failed shape validation. The
// vault rejects it before anything is encrypted or written, so the caller
// can correct the value and retry.
var ErrInvalidSecretFormat = errors.New("secret does not match the expected format")

// webhookSecretBytes is the entropy of a generated webhook signing secret.
const webhookSecretBytes = 32

// SecretHealthState classifies what RetrieveSecret's empty result actually
// means for a given integration, without changing that call's contract.
type SecretHealthState string

const (
	SecretHealthUnconfigured   SecretHealthState = "unconfigured"
	SecretHealthOK             SecretHealthState = "ok"
	SecretHealthUndecipherable SecretHealthState = "undecipherable"
)

// StoreOptions carries the optional metadata accepted when a secret is
// first stored or replaced.
type StoreOptions struct {
	AuthMode model.AuthMode // defaults to AuthModePAT
	ClientID string         // delegated auth only
	TenantID string         // delegated auth only

	// Verified indicates the caller already probed the service with this
	// secret; the row is marked connected instead of keeping its prior
	// status.
	Verified bool
}

// ConfigUpdate is the caller-facing partial update of non-secret settings.
// The webhook secret arrives in plaintext and is encrypted before it
// reaches the store.
type ConfigUpdate struct {
	WebhookURL       *string
	WebhookSecret    *string
	MaxRetryAttempts *int
	BaseDelayMS      *int
	IsEnabled        *bool
}

// IntegrationView is the read-only projection of an integration. It never
// contains decrypted secret material, only whether secrets exist.
type IntegrationView struct {
	OrgURL           string
	ProjectName      string
	AuthMode         model.AuthMode
	HasSecret        bool
	HasWebhookSecret bool
	ClientID         string
	TenantID         string
	WebhookURL       string
	MaxRetryAttempts int
	BaseDelayMS      int
	IsEnabled        bool
	ConnectionStatus model.ConnectionStatus
	LastSyncAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// VaultService is the credential vault's public API. It maps each
// (organization URL, project name) identity to an encrypted secret plus
// connection metadata, and is the only component that touches the
// persistence port. All cryptography is delegated to the encrypt service.
type VaultService struct {
	store  driven.IntegrationStore
	crypto *encrypt.Service
	prober driven.ConnectionProber
	logger *slog.Logger
}

// NewVaultService creates a VaultService with all required dependencies.
// prober may be nil, in which case TestConnection always reports false.
func NewVaultService(store driven.IntegrationStore, crypto *encrypt.Service, prober driven.ConnectionProber, logger *slog.Logger) *VaultService {
	if logger == nil {
		logger = slog.Default()
	}
	return &VaultService{
		store:  store,
		crypto: crypto,
		prober: prober,
		logger: logger,
	}
}

// Initialize prepares the underlying encryption service. Safe to call
// concurrently; all callers converge on one master key.
func (s *VaultService) Initialize() error {
	return s.crypto.Initialize()
}

// Shutdown zeroes the master key. The vault is unusable afterwards until
// Initialize runs again.
func (s *VaultService) Shutdown() {
	s.crypto.ClearMasterKey()
}

// StoreSecret validates, encrypts, and persists a secret for the given
// integration, creating the row if needed or fully replacing the previous
// secret. Validation failures reject the call before any write; the row is
// never left half-updated.
func (s *VaultService) StoreSecret(ctx context.Context, orgURL, projectName, secret string, opts StoreOptions) error {
	mode := opts.AuthMode
	if mode == "" {
		mode = model.AuthModePAT
	}
	if !model.ValidAuthMode(mode) {
		return fmt.Errorf("auth mode %q: %w", mode, ErrInvalidSecretFormat)
	}
	if !encrypt.ValidateTokenFormat(secret, tokenKindFor(mode)) {
		return fmt.Errorf("%s secret: %w", mode, ErrInvalidSecretFormat)
	}

	env, err := s.crypto.Encrypt([]byte(secret))
	if err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}
	serialized, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("serialize secret: %w", err)
	}

	existing, err := s.store.Get(ctx, orgURL, projectName)
	if err != nil {
		return fmt.Errorf("load integration: %w", err)
	}

	cfg := newConfigOrExisting(existing, orgURL, projectName)
	cfg.AuthMode = mode
	cfg.EncryptedSecret = serialized
	if opts.ClientID != "" {
		cfg.ClientID = opts.ClientID
	}
	if opts.TenantID != "" {
		cfg.TenantID = opts.TenantID
	}
	if opts.Verified {
		cfg.ConnectionStatus = model.StatusConnected
	}

	if err := s.store.Upsert(ctx, cfg); err != nil {
		return fmt.Errorf("store secret: %w", err)
	}

	s.logger.Info("secret stored", "org_url", orgURL, "project", projectName, "auth_mode", mode)
	return nil
}

// RetrieveSecret returns the decrypted secret for the given integration, or
// "" when unavailable. Unavailable deliberately covers both "never stored"
// and "stored but undecipherable" (wrong or rotated master key, corrupted
// ciphertext); callers that need to tell those apart use SecretHealth.
func (s *VaultService) RetrieveSecret(ctx context.Context, orgURL, projectName string) (string, error) {
	cfg, err := s.store.Get(ctx, orgURL, projectName)
	if err != nil {
		return "", fmt.Errorf("load integration: %w", err)
	}
	if cfg == nil || cfg.EncryptedSecret == "" {
		return "", nil
	}

	plaintext, ok := s.decryptStored(cfg.EncryptedSecret, orgURL, projectName)
	if !ok {
		return "", nil
	}
	return plaintext, nil
}

// UpdateSecret replaces the stored secret, keeping the row's auth mode and
// other settings. Exposed as one call so the caller gets remove-then-store
// atomicity at the API boundary.
func (s *VaultService) UpdateSecret(ctx context.Context, orgURL, projectName, newSecret string) error {
	existing, err := s.store.Get(ctx, orgURL, projectName)
	if err != nil {
		return fmt.Errorf("load integration: %w", err)
	}

	opts := StoreOptions{}
	if existing != nil {
		opts.AuthMode = existing.AuthMode
		opts.ClientID = existing.ClientID
		opts.TenantID = existing.TenantID
	}
	return s.StoreSecret(ctx, orgURL, projectName, newSecret, opts)
}

// RemoveSecret deletes the integration row. Removing an integration that
// does not exist is not an error.
func (s *VaultService) RemoveSecret(ctx context.Context, orgURL, projectName string) error {
	if err := s.store.Delete(ctx, orgURL, projectName); err != nil {
		return fmt.Errorf("remove secret: %w", err)
	}
	s.logger.Info("secret removed", "org_url", orgURL, "project", projectName)
	return nil
}

// UpdateConfiguration patches non-secret settings. A webhook secret in the
// update is encrypted before persistence; the stored secret column is never
// touched.
func (s *VaultService) UpdateConfiguration(ctx context.Context, orgURL, projectName string, update ConfigUpdate) error {
	patch := model.ConfigPatch{
		WebhookURL:       update.WebhookURL,
		MaxRetryAttempts: update.MaxRetryAttempts,
		BaseDelayMS:      update.BaseDelayMS,
		IsEnabled:        update.IsEnabled,
	}

	if update.WebhookSecret != nil {
		encrypted := ""
		if *update.WebhookSecret != "" {
			if !encrypt.ValidateTokenFormat(*update.WebhookSecret, encrypt.TokenKindWebhookSecret) {
				return fmt.Errorf("webhook secret: %w", ErrInvalidSecretFormat)
			}
			env, err := s.crypto.Encrypt([]byte(*update.WebhookSecret))
			if err != nil {
				return fmt.Errorf("encrypt webhook secret: %w", err)
			}
			encrypted, err = env.Marshal()
			if err != nil {
				return fmt.Errorf("serialize webhook secret: %w", err)
			}
		}
		patch.WebhookSecret = &encrypted
	}

	if err := s.store.UpdateFields(ctx, orgURL, projectName, patch); err != nil {
		return fmt.Errorf("update configuration: %w", err)
	}
	return nil
}

// UpdateConnectionStatus records a status observed by an external probe or
// an explicit reset. The status is a cache of last-known connectivity, so
// any transition is accepted.
func (s *VaultService) UpdateConnectionStatus(ctx context.Context, orgURL, projectName string, status model.ConnectionStatus, lastSyncAt *time.Time) error {
	if !model.ValidConnectionStatus(status) {
		return fmt.Errorf("unknown connection status %q", status)
	}
	if err := s.store.UpdateStatus(ctx, orgURL, projectName, status, lastSyncAt); err != nil {
		return fmt.Errorf("update connection status: %w", err)
	}
	return nil
}

// TestConnection decrypts the stored secret and probes the external service
// with it. A successful probe marks the row connected with a fresh sync
// timestamp; a probe that runs and fails marks it error. When the secret is
// missing or undecipherable the status is left unchanged and the result is
// false.
func (s *VaultService) TestConnection(ctx context.Context, orgURL, projectName string) bool {
	if s.prober == nil {
		return false
	}

	cfg, err := s.store.Get(ctx, orgURL, projectName)
	if err != nil {
		s.logger.Error("test connection: load integration", "org_url", orgURL, "project", projectName, "error", err)
		return false
	}
	if cfg == nil || cfg.EncryptedSecret == "" {
		return false
	}

	secret, ok := s.decryptStored(cfg.EncryptedSecret, orgURL, projectName)
	if !ok {
		return false
	}

	if err := s.prober.Probe(ctx, orgURL, secret, cfg.RetryPolicy()); err != nil {
		s.logger.Warn("connection probe failed", "org_url", orgURL, "project", projectName, "error", err)
		if statusErr := s.store.UpdateStatus(ctx, orgURL, projectName, model.StatusError, nil); statusErr != nil {
			s.logger.Error("record probe failure", "org_url", orgURL, "project", projectName, "error", statusErr)
		}
		return false
	}

	now := time.Now().UTC()
	if err := s.store.UpdateStatus(ctx, orgURL, projectName, model.StatusConnected, &now); err != nil {
		s.logger.Error("record probe success", "org_url", orgURL, "project", projectName, "error", err)
	}
	return true
}

// GenerateWebhookSecret returns a fresh signing secret in plaintext. The
// value is handed out exactly once; persisting it (encrypted) is the
// caller's job, typically via UpdateConfiguration or RotateWebhookSecret.
func (s *VaultService) GenerateWebhookSecret() (string, error) {
	return s.crypto.GenerateSecureKey(webhookSecretBytes)
}

// RotateWebhookSecret generates a new signing secret, persists it encrypted
// on the integration, and returns the plaintext once.
func (s *VaultService) RotateWebhookSecret(ctx context.Context, orgURL, projectName string) (string, error) {
	plaintext, err := s.crypto.GenerateSecureKey(webhookSecretBytes)
	if err != nil {
		return "", err
	}
	if err := s.UpdateConfiguration(ctx, orgURL, projectName, ConfigUpdate{WebhookSecret: &plaintext}); err != nil {
		return "", err
	}
	s.logger.Info("webhook secret rotated", "org_url", orgURL, "project", projectName)
	return plaintext, nil
}

// GetConfiguration returns the integration's metadata projection, or nil if
// the integration does not exist. The projection never includes decrypted
// secrets.
func (s *VaultService) GetConfiguration(ctx context.Context, orgURL, projectName string) (*IntegrationView, error) {
	cfg, err := s.store.Get(ctx, orgURL, projectName)
	if err != nil {
		return nil, fmt.Errorf("get configuration: %w", err)
	}
	if cfg == nil {
		return nil, nil
	}
	view := toView(*cfg)
	return &view, nil
}

// ListConfigurations returns metadata projections for every integration.
func (s *VaultService) ListConfigurations(ctx context.Context) ([]IntegrationView, error) {
	configs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}

	views := make([]IntegrationView, 0, len(configs))
	for _, cfg := range configs {
		views = append(views, toView(cfg))
	}
	return views, nil
}

// SecretHealth reports whether the integration's secret is absent, intact,
// or stored but no longer decipherable. RetrieveSecret collapses the last
// two cases into ""; this call is the diagnostic that separates them.
func (s *VaultService) SecretHealth(ctx context.Context, orgURL, projectName string) (SecretHealthState, error) {
	cfg, err := s.store.Get(ctx, orgURL, projectName)
	if err != nil {
		return "", fmt.Errorf("secret health: %w", err)
	}
	if cfg == nil || cfg.EncryptedSecret == "" {
		return SecretHealthUnconfigured, nil
	}

	env, err := encrypt.UnmarshalEnvelope(cfg.EncryptedSecret)
	if err != nil {
		return SecretHealthUndecipherable, nil
	}
	if _, err := s.crypto.Decrypt(env); err != nil {
		if errors.Is(err, encrypt.ErrNotInitialized) {
			return "", err
		}
		return SecretHealthUndecipherable, nil
	}
	return SecretHealthOK, nil
}

// decryptStored decrypts a serialized envelope, downgrading every failure
// except ErrNotInitialized to a logged miss. A corrupted or rekeyed row
// must read as "unavailable", not crash the caller.
func (s *VaultService) decryptStored(serialized, orgURL, projectName string) (string, bool) {
	env, err := encrypt.UnmarshalEnvelope(serialized)
	if err != nil {
		s.logger.Warn("stored secret is not a valid envelope", "org_url", orgURL, "project", projectName, "error", err)
		return "", false
	}

	plaintext, err := s.crypto.Decrypt(env)
	if err != nil {
		s.logger.Warn("stored secret could not be decrypted", "org_url", orgURL, "project", projectName, "error", err)
		return "", false
	}
	return string(plaintext), true
}

func tokenKindFor(mode model.AuthMode) encrypt.TokenKind {
	if mode == model.AuthModeOAuth {
		return encrypt.TokenKindOAuthRefresh
	}
	return encrypt.TokenKindPAT
}

// newConfigOrExisting seeds a row for a first-time store or carries the
// current row forward so an upsert replaces only what the caller changed.
func newConfigOrExisting(existing *model.IntegrationConfig, orgURL, projectName string) model.IntegrationConfig {
	if existing != nil {
		return *existing
	}
	return model.IntegrationConfig{
		OrgURL:           orgURL,
		ProjectName:      projectName,
		AuthMode:         model.AuthModePAT,
		MaxRetryAttempts: model.DefaultMaxRetryAttempts,
		BaseDelayMS:      model.DefaultBaseDelayMS,
		IsEnabled:        true,
		ConnectionStatus: model.StatusDisconnected,
	}
}

func toView(cfg model.IntegrationConfig) IntegrationView {
	return IntegrationView{
		OrgURL:           cfg.OrgURL,
		ProjectName:      cfg.ProjectName,
		AuthMode:         cfg.AuthMode,
		HasSecret:        cfg.EncryptedSecret != "",
		HasWebhookSecret: cfg.WebhookSecret != "",
		ClientID:         cfg.ClientID,
		TenantID:         cfg.TenantID,
		WebhookURL:       cfg.WebhookURL,
		MaxRetryAttempts: cfg.MaxRetryAttempts,
		BaseDelayMS:      cfg.BaseDelayMS,
		IsEnabled:        cfg.IsEnabled,
		ConnectionStatus: cfg.ConnectionStatus,
		LastSyncAt:       cfg.LastSyncAt,
		CreatedAt:        cfg.CreatedAt,
		UpdatedAt:        cfg.UpdatedAt,
	}
}
