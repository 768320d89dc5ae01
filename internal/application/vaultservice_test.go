package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planhub/planhub/internal/domain/model"
	"github.com/planhub/planhub/internal/domain/port/driven"
	"github.com/planhub/planhub/internal/encrypt"
)

const validPAT = "abcdefghijklmnopqrstuvwxyz0123456789ABCDEFGHIJKLMNOP"

// fakeStore is an in-memory IntegrationStore for vault tests.
type fakeStore struct {
	mu   sync.Mutex
	rows map[string]model.IntegrationConfig
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]model.IntegrationConfig)}
}

func storeKey(orgURL, projectName string) string {
	return orgURL + "\x00" + projectName
}

func (f *fakeStore) Upsert(_ context.Context, cfg model.IntegrationConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := f.rows[storeKey(cfg.OrgURL, cfg.ProjectName)]; ok {
		cfg.CreatedAt = existing.CreatedAt
	} else {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	f.rows[storeKey(cfg.OrgURL, cfg.ProjectName)] = cfg
	return nil
}

func (f *fakeStore) Get(_ context.Context, orgURL, projectName string) (*model.IntegrationConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.rows[storeKey(orgURL, projectName)]
	if !ok {
		return nil, nil
	}
	cp := cfg
	return &cp, nil
}

func (f *fakeStore) List(_ context.Context) ([]model.IntegrationConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.IntegrationConfig, 0, len(f.rows))
	for _, cfg := range f.rows {
		out = append(out, cfg)
	}
	return out, nil
}

func (f *fakeStore) Delete(_ context.Context, orgURL, projectName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, storeKey(orgURL, projectName))
	return nil
}

func (f *fakeStore) UpdateFields(_ context.Context, orgURL, projectName string, patch model.ConfigPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.rows[storeKey(orgURL, projectName)]
	if !ok {
		return driven.ErrIntegrationNotFound
	}
	if patch.WebhookURL != nil {
		cfg.WebhookURL = *patch.WebhookURL
	}
	if patch.WebhookSecret != nil {
		cfg.WebhookSecret = *patch.WebhookSecret
	}
	if patch.MaxRetryAttempts != nil {
		cfg.MaxRetryAttempts = *patch.MaxRetryAttempts
	}
	if patch.BaseDelayMS != nil {
		cfg.BaseDelayMS = *patch.BaseDelayMS
	}
	if patch.IsEnabled != nil {
		cfg.IsEnabled = *patch.IsEnabled
	}
	cfg.UpdatedAt = time.Now().UTC()
	f.rows[storeKey(orgURL, projectName)] = cfg
	return nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, orgURL, projectName string, status model.ConnectionStatus, lastSyncAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.rows[storeKey(orgURL, projectName)]
	if !ok {
		return driven.ErrIntegrationNotFound
	}
	cfg.ConnectionStatus = status
	if lastSyncAt != nil {
		t := *lastSyncAt
		cfg.LastSyncAt = &t
	}
	f.rows[storeKey(orgURL, projectName)] = cfg
	return nil
}

// corrupt overwrites a stored row's encrypted secret, simulating on-disk
// corruption below the vault.
func (f *fakeStore) corrupt(orgURL, projectName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg := f.rows[storeKey(orgURL, projectName)]
	cfg.EncryptedSecret = `{"data":"Y29ycnVwdA","iv":"AAAAAAAAAAAAAAAA","tag":"AAAAAAAAAAAAAAAAAAAAAA"}`
	f.rows[storeKey(orgURL, projectName)] = cfg
}

// stubProber scripts probe outcomes and records calls.
type stubProber struct {
	err    error
	calls  int
	secret string
	policy model.RetryPolicy
}

func (p *stubProber) Probe(_ context.Context, _ string, secret string, policy model.RetryPolicy) error {
	p.calls++
	p.secret = secret
	p.policy = policy
	return p.err
}

type vaultFixture struct {
	vault   *VaultService
	store   *fakeStore
	crypto  *encrypt.Service
	prober  *stubProber
	keyPath string
}

func newVaultFixture(t *testing.T) *vaultFixture {
	t.Helper()

	keyPath := filepath.Join(t.TempDir(), "vault.key")
	crypto := encrypt.NewService(keyPath, nil)
	require.NoError(t, crypto.Initialize())
	t.Cleanup(crypto.ClearMasterKey)

	store := newFakeStore()
	prober := &stubProber{}
	return &vaultFixture{
		vault:   NewVaultService(store, crypto, prober, nil),
		store:   store,
		crypto:  crypto,
		prober:  prober,
		keyPath: keyPath,
	}
}

func TestVaultService_StoreAndRetrieveLifecycle(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.vault.StoreSecret(ctx, "orgA", "proj1", validPAT, StoreOptions{}))

	got, err := fx.vault.RetrieveSecret(ctx, "orgA", "proj1")
	require.NoError(t, err)
	assert.Equal(t, validPAT, got)

	require.NoError(t, fx.vault.RemoveSecret(ctx, "orgA", "proj1"))

	got, err = fx.vault.RetrieveSecret(ctx, "orgA", "proj1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestVaultService_SecretIsEncryptedAtRest(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.vault.StoreSecret(ctx, "orgA", "proj1", validPAT, StoreOptions{}))

	row, err := fx.store.Get(ctx, "orgA", "proj1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.NotContains(t, row.EncryptedSecret, validPAT)

	env, err := encrypt.UnmarshalEnvelope(row.EncryptedSecret)
	require.NoError(t, err, "stored secret must be a serialized envelope")
	assert.NotEmpty(t, env.Data)
}

func TestVaultService_InvalidFormatRejectedWithoutWrite(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	err := fx.vault.StoreSecret(ctx, "orgA", "proj1", "too-short", StoreOptions{})
	assert.ErrorIs(t, err, ErrInvalidSecretFormat)

	row, getErr := fx.store.Get(ctx, "orgA", "proj1")
	require.NoError(t, getErr)
	assert.Nil(t, row, "a rejected secret must leave no row behind")
}

func TestVaultService_InvalidFormatDoesNotClobberExisting(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.vault.StoreSecret(ctx, "orgA", "proj1", validPAT, StoreOptions{}))

	err := fx.vault.UpdateSecret(ctx, "orgA", "proj1", "bogus")
	assert.ErrorIs(t, err, ErrInvalidSecretFormat)

	got, err := fx.vault.RetrieveSecret(ctx, "orgA", "proj1")
	require.NoError(t, err)
	assert.Equal(t, validPAT, got, "failed update must not disturb the stored secret")
}

func TestVaultService_OAuthModeValidatesRefreshFormat(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	refresh := strings.Repeat("a", 30) + "." + strings.Repeat("b", 30) + "." + strings.Repeat("c", 30)
	opts := StoreOptions{AuthMode: model.AuthModeOAuth, ClientID: "client-1", TenantID: "tenant-1"}

	// A PAT-shaped value is not a valid delegated-auth secret.
	err := fx.vault.StoreSecret(ctx, "orgA", "proj1", validPAT, opts)
	assert.ErrorIs(t, err, ErrInvalidSecretFormat)

	require.NoError(t, fx.vault.StoreSecret(ctx, "orgA", "proj1", refresh, opts))

	view, err := fx.vault.GetConfiguration(ctx, "orgA", "proj1")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, model.AuthModeOAuth, view.AuthMode)
	assert.Equal(t, "client-1", view.ClientID)
	assert.Equal(t, "tenant-1", view.TenantID)
}

func TestVaultService_UpdateSecretReplacesValue(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	newPAT := strings.Repeat("Z9", 26)
	require.NoError(t, fx.vault.StoreSecret(ctx, "orgA", "proj1", validPAT, StoreOptions{}))
	require.NoError(t, fx.vault.UpdateSecret(ctx, "orgA", "proj1", newPAT))

	got, err := fx.vault.RetrieveSecret(ctx, "orgA", "proj1")
	require.NoError(t, err)
	assert.Equal(t, newPAT, got)
}

func TestVaultService_RemoveIsIdempotent(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	assert.NoError(t, fx.vault.RemoveSecret(ctx, "orgA", "never-stored"))
}

func TestVaultService_VerifiedStoreMarksConnected(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.vault.StoreSecret(ctx, "orgA", "proj1", validPAT, StoreOptions{Verified: true}))

	view, err := fx.vault.GetConfiguration(ctx, "orgA", "proj1")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, model.StatusConnected, view.ConnectionStatus)
}

func TestVaultService_UnverifiedStoreKeepsPriorStatus(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.vault.StoreSecret(ctx, "orgA", "proj1", validPAT, StoreOptions{Verified: true}))
	require.NoError(t, fx.vault.StoreSecret(ctx, "orgA", "proj1", strings.Repeat("Z9", 26), StoreOptions{}))

	view, err := fx.vault.GetConfiguration(ctx, "orgA", "proj1")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, model.StatusConnected, view.ConnectionStatus, "replacing a secret without verification keeps the last-known status")
}

func TestVaultService_CorruptionIsolation(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	secrets := map[string]string{
		"proj1": validPAT,
		"proj2": strings.Repeat("B2", 26),
		"proj3": strings.Repeat("c3", 26),
	}
	for proj, secret := range secrets {
		require.NoError(t, fx.vault.StoreSecret(ctx, "orgA", proj, secret, StoreOptions{}))
	}

	fx.store.corrupt("orgA", "proj2")

	got, err := fx.vault.RetrieveSecret(ctx, "orgA", "proj2")
	require.NoError(t, err, "a corrupted row reads as unavailable, never as an error")
	assert.Empty(t, got)

	for _, proj := range []string{"proj1", "proj3"} {
		got, err := fx.vault.RetrieveSecret(ctx, "orgA", proj)
		require.NoError(t, err)
		assert.Equal(t, secrets[proj], got, "unrelated rows stay readable")
	}
}

func TestVaultService_KeyRotationInvalidatesStoredSecrets(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.vault.StoreSecret(ctx, "orgA", "proj1", validPAT, StoreOptions{}))

	// Lose the key file and restart the crypto lifecycle.
	fx.vault.Shutdown()
	require.NoError(t, os.Remove(fx.keyPath))
	require.NoError(t, fx.vault.Initialize())

	got, err := fx.vault.RetrieveSecret(ctx, "orgA", "proj1")
	require.NoError(t, err)
	assert.Empty(t, got, "old ciphertext is unreadable under the regenerated key")

	health, err := fx.vault.SecretHealth(ctx, "orgA", "proj1")
	require.NoError(t, err)
	assert.Equal(t, SecretHealthUndecipherable, health)

	// Storing afterwards works and round-trips under the new key.
	require.NoError(t, fx.vault.StoreSecret(ctx, "orgA", "proj1", validPAT, StoreOptions{}))
	got, err = fx.vault.RetrieveSecret(ctx, "orgA", "proj1")
	require.NoError(t, err)
	assert.Equal(t, validPAT, got)
}

func TestVaultService_ConcurrentStoresDistinctKeys(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			secret := fmt.Sprintf("%052d", i)
			errs[i] = fx.vault.StoreSecret(ctx, "orgA", fmt.Sprintf("proj-%d", i), secret, StoreOptions{})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "store %d", i)
		got, err := fx.vault.RetrieveSecret(ctx, "orgA", fmt.Sprintf("proj-%d", i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%052d", i), got)
	}
}

func TestVaultService_ProjectionsNeverExposeSecrets(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.vault.StoreSecret(ctx, "orgA", "proj1", validPAT, StoreOptions{}))
	_, err := fx.vault.RotateWebhookSecret(ctx, "orgA", "proj1")
	require.NoError(t, err)

	view, err := fx.vault.GetConfiguration(ctx, "orgA", "proj1")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.True(t, view.HasSecret)
	assert.True(t, view.HasWebhookSecret)

	views, err := fx.vault.ListConfigurations(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].HasSecret)
}

func TestVaultService_GetConfigurationMissing(t *testing.T) {
	fx := newVaultFixture(t)

	view, err := fx.vault.GetConfiguration(context.Background(), "orgA", "nope")
	require.NoError(t, err)
	assert.Nil(t, view)
}

func TestVaultService_UpdateConfiguration(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.vault.StoreSecret(ctx, "orgA", "proj1", validPAT, StoreOptions{}))

	webhookURL := "https://hooks.example.com/planhub"
	retries := 7
	update := ConfigUpdate{WebhookURL: &webhookURL, MaxRetryAttempts: &retries}
	require.NoError(t, fx.vault.UpdateConfiguration(ctx, "orgA", "proj1", update))

	view, err := fx.vault.GetConfiguration(ctx, "orgA", "proj1")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, webhookURL, view.WebhookURL)
	assert.Equal(t, 7, view.MaxRetryAttempts)
	assert.True(t, view.HasSecret, "config patch must not touch the stored secret")

	got, err := fx.vault.RetrieveSecret(ctx, "orgA", "proj1")
	require.NoError(t, err)
	assert.Equal(t, validPAT, got)
}

func TestVaultService_UpdateConfigurationMissingRow(t *testing.T) {
	fx := newVaultFixture(t)

	enabled := false
	err := fx.vault.UpdateConfiguration(context.Background(), "orgA", "nope", ConfigUpdate{IsEnabled: &enabled})
	assert.ErrorIs(t, err, driven.ErrIntegrationNotFound)
}

func TestVaultService_WebhookSecretStoredEncrypted(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.vault.StoreSecret(ctx, "orgA", "proj1", validPAT, StoreOptions{}))

	plaintext, err := fx.vault.RotateWebhookSecret(ctx, "orgA", "proj1")
	require.NoError(t, err)
	assert.NotEmpty(t, plaintext)

	row, err := fx.store.Get(ctx, "orgA", "proj1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.NotContains(t, row.WebhookSecret, plaintext)

	env, err := encrypt.UnmarshalEnvelope(row.WebhookSecret)
	require.NoError(t, err)
	decrypted, err := fx.crypto.Decrypt(env)
	require.NoError(t, err)
	assert.Equal(t, plaintext, string(decrypted))
}

func TestVaultService_GenerateWebhookSecretIsEphemeral(t *testing.T) {
	fx := newVaultFixture(t)

	s1, err := fx.vault.GenerateWebhookSecret()
	require.NoError(t, err)
	s2, err := fx.vault.GenerateWebhookSecret()
	require.NoError(t, err)

	assert.NotEqual(t, s1, s2)
	assert.True(t, encrypt.ValidateTokenFormat(s1, encrypt.TokenKindWebhookSecret))
}

func TestVaultService_UpdateConnectionStatus(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.vault.StoreSecret(ctx, "orgA", "proj1", validPAT, StoreOptions{}))

	syncedAt := time.Now().UTC()
	require.NoError(t, fx.vault.UpdateConnectionStatus(ctx, "orgA", "proj1", model.StatusConnected, &syncedAt))

	view, err := fx.vault.GetConfiguration(ctx, "orgA", "proj1")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, model.StatusConnected, view.ConnectionStatus)
	require.NotNil(t, view.LastSyncAt)

	err = fx.vault.UpdateConnectionStatus(ctx, "orgA", "proj1", model.ConnectionStatus("bogus"), nil)
	assert.Error(t, err, "unknown status values are rejected")
}

func TestVaultService_TestConnectionSuccess(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.vault.StoreSecret(ctx, "orgA", "proj1", validPAT, StoreOptions{}))

	assert.True(t, fx.vault.TestConnection(ctx, "orgA", "proj1"))
	assert.Equal(t, 1, fx.prober.calls)
	assert.Equal(t, validPAT, fx.prober.secret, "the probe receives the decrypted secret")
	assert.Equal(t, model.DefaultMaxRetryAttempts, fx.prober.policy.MaxAttempts)

	view, err := fx.vault.GetConfiguration(ctx, "orgA", "proj1")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, model.StatusConnected, view.ConnectionStatus)
	assert.NotNil(t, view.LastSyncAt)
}

func TestVaultService_TestConnectionProbeFailure(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.vault.StoreSecret(ctx, "orgA", "proj1", validPAT, StoreOptions{Verified: true}))
	fx.prober.err = errors.New("connection refused")

	assert.False(t, fx.vault.TestConnection(ctx, "orgA", "proj1"))

	view, err := fx.vault.GetConfiguration(ctx, "orgA", "proj1")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, model.StatusError, view.ConnectionStatus)
}

func TestVaultService_TestConnectionMissingSecret(t *testing.T) {
	fx := newVaultFixture(t)

	assert.False(t, fx.vault.TestConnection(context.Background(), "orgA", "never-stored"))
	assert.Zero(t, fx.prober.calls, "no probe without a secret")
}

func TestVaultService_TestConnectionUndecipherableLeavesStatus(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.vault.StoreSecret(ctx, "orgA", "proj1", validPAT, StoreOptions{Verified: true}))
	fx.store.corrupt("orgA", "proj1")

	assert.False(t, fx.vault.TestConnection(ctx, "orgA", "proj1"))
	assert.Zero(t, fx.prober.calls)

	view, err := fx.vault.GetConfiguration(ctx, "orgA", "proj1")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, model.StatusConnected, view.ConnectionStatus, "an undecipherable secret leaves the cached status alone")
}

func TestVaultService_SecretHealthStates(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	health, err := fx.vault.SecretHealth(ctx, "orgA", "proj1")
	require.NoError(t, err)
	assert.Equal(t, SecretHealthUnconfigured, health)

	require.NoError(t, fx.vault.StoreSecret(ctx, "orgA", "proj1", validPAT, StoreOptions{}))
	health, err = fx.vault.SecretHealth(ctx, "orgA", "proj1")
	require.NoError(t, err)
	assert.Equal(t, SecretHealthOK, health)

	fx.store.corrupt("orgA", "proj1")
	health, err = fx.vault.SecretHealth(ctx, "orgA", "proj1")
	require.NoError(t, err)
	assert.Equal(t, SecretHealthUndecipherable, health)
}

func TestVaultService_OperationsFailAfterShutdown(t *testing.T) {
	fx := newVaultFixture(t)
	ctx := context.Background()

	fx.vault.Shutdown()

	err := fx.vault.StoreSecret(ctx, "orgA", "proj1", validPAT, StoreOptions{})
	assert.ErrorIs(t, err, encrypt.ErrNotInitialized)
}
