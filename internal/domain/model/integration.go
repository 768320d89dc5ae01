package model

import "time"

// IntegrationConfig is one work-tracking integration, keyed by the
// combination of organization URL and project name. The secret fields
// (EncryptedSecret, WebhookSecret) always hold serialized encrypted
// envelopes, never plaintext; encryption happens above the persistence
// boundary.
type IntegrationConfig struct {
	ID               int64
	OrgURL           string
	ProjectName      string
	AuthMode         AuthMode
	EncryptedSecret  string // serialized envelope JSON, "" when no secret stored
	ClientID         string // delegated auth only
	TenantID         string // delegated auth only
	WebhookURL       string
	WebhookSecret    string // serialized envelope JSON, "" when not configured
	MaxRetryAttempts int
	BaseDelayMS      int
	IsEnabled        bool
	ConnectionStatus ConnectionStatus
	LastSyncAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RetryPolicy returns the probe retry policy for this integration,
// substituting defaults for unset or nonsensical values.
func (c *IntegrationConfig) RetryPolicy() RetryPolicy {
	p := RetryPolicy{
		MaxAttempts: c.MaxRetryAttempts,
		BaseDelay:   time.Duration(c.BaseDelayMS) * time.Millisecond,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxRetryAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Duration(DefaultBaseDelayMS) * time.Millisecond
	}
	return p
}

// Defaults applied when a new integration row is created without explicit
// retry settings.
const (
	DefaultMaxRetryAttempts = 3
	DefaultBaseDelayMS      = 1000
)

// RetryPolicy controls the external connectivity probe. Vault operations
// themselves are never retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// ConfigPatch is a partial update of an integration's non-secret settings.
// Nil fields are left untouched. WebhookSecret, when set, must already be
// an encrypted envelope; the store never sees plaintext.
type ConfigPatch struct {
	WebhookURL       *string
	WebhookSecret    *string
	MaxRetryAttempts *int
	BaseDelayMS      *int
	IsEnabled        *bool
}
