// Package httphandler is the driving adapter that exposes the vault to the
// UI process over a loopback JSON API. Integration identities arrive as
// query parameters or body fields rather than path segments, because the
// organization identifier is itself a URL.
package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/planhub/planhub/internal/application"
	"github.com/planhub/planhub/internal/domain/model"
	"github.com/planhub/planhub/internal/domain/port/driven"
	"github.com/planhub/planhub/internal/encrypt"
)

// Handler serves the vault REST API.
type Handler struct {
	vault  *application.VaultService
	logger *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(vault *application.VaultService, logger *slog.Logger) *Handler {
	return &Handler{vault: vault, logger: logger}
}

// NewServeMux creates an http.Handler with all routes registered and
// wrapped with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/integrations", h.ListIntegrations)
	mux.HandleFunc("GET /api/v1/integrations/config", h.GetIntegration)
	mux.HandleFunc("PATCH /api/v1/integrations/config", h.UpdateConfiguration)
	mux.HandleFunc("GET /api/v1/integrations/secret", h.RetrieveSecret)
	mux.HandleFunc("POST /api/v1/integrations/secret", h.StoreSecret)
	mux.HandleFunc("PUT /api/v1/integrations/secret", h.UpdateSecret)
	mux.HandleFunc("DELETE /api/v1/integrations/secret", h.RemoveSecret)
	mux.HandleFunc("GET /api/v1/integrations/secret-health", h.SecretHealth)
	mux.HandleFunc("POST /api/v1/integrations/status", h.UpdateStatus)
	mux.HandleFunc("POST /api/v1/integrations/test", h.TestConnection)
	mux.HandleFunc("POST /api/v1/integrations/webhook-secret/rotate", h.RotateWebhookSecret)
	mux.HandleFunc("POST /api/v1/webhook-secrets", h.GenerateWebhookSecret)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// targetFromQuery extracts the (org_url, project) key from query parameters.
func targetFromQuery(w http.ResponseWriter, r *http.Request) (orgURL, project string, ok bool) {
	orgURL = r.URL.Query().Get("org_url")
	project = r.URL.Query().Get("project")
	if orgURL == "" || project == "" {
		writeError(w, http.StatusBadRequest, "org_url and project query parameters are required")
		return "", "", false
	}
	return orgURL, project, true
}

// ListIntegrations returns metadata projections for every integration.
func (h *Handler) ListIntegrations(w http.ResponseWriter, r *http.Request) {
	views, err := h.vault.ListConfigurations(r.Context())
	if err != nil {
		h.logger.Error("failed to list integrations", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]IntegrationResponse, 0, len(views))
	for _, v := range views {
		resp = append(resp, toIntegrationResponse(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetIntegration returns one integration's metadata projection.
func (h *Handler) GetIntegration(w http.ResponseWriter, r *http.Request) {
	orgURL, project, ok := targetFromQuery(w, r)
	if !ok {
		return
	}

	view, err := h.vault.GetConfiguration(r.Context(), orgURL, project)
	if err != nil {
		h.logger.Error("failed to get integration", "org_url", orgURL, "project", project, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if view == nil {
		writeError(w, http.StatusNotFound, "integration not found")
		return
	}

	writeJSON(w, http.StatusOK, toIntegrationResponse(*view))
}

// StoreSecret validates and stores a new integration secret.
func (h *Handler) StoreSecret(w http.ResponseWriter, r *http.Request) {
	var req StoreSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrgURL == "" || req.ProjectName == "" || req.Secret == "" {
		writeError(w, http.StatusBadRequest, "org_url, project_name and secret are required")
		return
	}

	opts := application.StoreOptions{
		AuthMode: model.AuthMode(req.AuthMode),
		ClientID: req.ClientID,
		TenantID: req.TenantID,
		Verified: req.Verified,
	}
	if err := h.vault.StoreSecret(r.Context(), req.OrgURL, req.ProjectName, req.Secret, opts); err != nil {
		h.writeVaultError(w, req.OrgURL, req.ProjectName, "store secret", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpdateSecret replaces the stored secret for an existing integration.
func (h *Handler) UpdateSecret(w http.ResponseWriter, r *http.Request) {
	var req StoreSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrgURL == "" || req.ProjectName == "" || req.Secret == "" {
		writeError(w, http.StatusBadRequest, "org_url, project_name and secret are required")
		return
	}

	if err := h.vault.UpdateSecret(r.Context(), req.OrgURL, req.ProjectName, req.Secret); err != nil {
		h.writeVaultError(w, req.OrgURL, req.ProjectName, "update secret", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RetrieveSecret returns the decrypted secret, or a null body when the
// secret is unavailable for any reason.
func (h *Handler) RetrieveSecret(w http.ResponseWriter, r *http.Request) {
	orgURL, project, ok := targetFromQuery(w, r)
	if !ok {
		return
	}

	secret, err := h.vault.RetrieveSecret(r.Context(), orgURL, project)
	if err != nil {
		h.writeVaultError(w, orgURL, project, "retrieve secret", err)
		return
	}

	resp := SecretResponse{}
	if secret != "" {
		resp.Secret = &secret
	}
	writeJSON(w, http.StatusOK, resp)
}

// RemoveSecret deletes the integration. Removing a missing one succeeds.
func (h *Handler) RemoveSecret(w http.ResponseWriter, r *http.Request) {
	orgURL, project, ok := targetFromQuery(w, r)
	if !ok {
		return
	}

	if err := h.vault.RemoveSecret(r.Context(), orgURL, project); err != nil {
		h.writeVaultError(w, orgURL, project, "remove secret", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SecretHealth reports whether the stored secret is absent, intact, or
// undecipherable.
func (h *Handler) SecretHealth(w http.ResponseWriter, r *http.Request) {
	orgURL, project, ok := targetFromQuery(w, r)
	if !ok {
		return
	}

	state, err := h.vault.SecretHealth(r.Context(), orgURL, project)
	if err != nil {
		h.writeVaultError(w, orgURL, project, "secret health", err)
		return
	}

	writeJSON(w, http.StatusOK, SecretHealthResponse{State: string(state)})
}

// UpdateConfiguration patches non-secret integration settings.
func (h *Handler) UpdateConfiguration(w http.ResponseWriter, r *http.Request) {
	var req UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrgURL == "" || req.ProjectName == "" {
		writeError(w, http.StatusBadRequest, "org_url and project_name are required")
		return
	}

	update := application.ConfigUpdate{
		WebhookURL:       req.WebhookURL,
		WebhookSecret:    req.WebhookSecret,
		MaxRetryAttempts: req.MaxRetryAttempts,
		BaseDelayMS:      req.BaseDelayMS,
		IsEnabled:        req.IsEnabled,
	}
	if err := h.vault.UpdateConfiguration(r.Context(), req.OrgURL, req.ProjectName, update); err != nil {
		h.writeVaultError(w, req.OrgURL, req.ProjectName, "update configuration", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpdateStatus records an externally observed connection status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrgURL == "" || req.ProjectName == "" || req.Status == "" {
		writeError(w, http.StatusBadRequest, "org_url, project_name and status are required")
		return
	}

	var lastSync *time.Time
	if req.LastSyncAt != "" {
		t, err := time.Parse(time.RFC3339, req.LastSyncAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "last_sync_at must be RFC3339")
			return
		}
		lastSync = &t
	}

	err := h.vault.UpdateConnectionStatus(r.Context(), req.OrgURL, req.ProjectName, model.ConnectionStatus(req.Status), lastSync)
	if err != nil {
		if !model.ValidConnectionStatus(model.ConnectionStatus(req.Status)) {
			writeError(w, http.StatusBadRequest, "unknown connection status")
			return
		}
		h.writeVaultError(w, req.OrgURL, req.ProjectName, "update status", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TestConnection probes the external service with the stored secret.
func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req TargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrgURL == "" || req.ProjectName == "" {
		writeError(w, http.StatusBadRequest, "org_url and project_name are required")
		return
	}

	reachable := h.vault.TestConnection(r.Context(), req.OrgURL, req.ProjectName)
	writeJSON(w, http.StatusOK, TestConnectionResponse{Reachable: reachable})
}

// GenerateWebhookSecret returns a fresh signing secret without persisting
// it. The caller stores it via the configuration update.
func (h *Handler) GenerateWebhookSecret(w http.ResponseWriter, r *http.Request) {
	secret, err := h.vault.GenerateWebhookSecret()
	if err != nil {
		h.logger.Error("failed to generate webhook secret", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, WebhookSecretResponse{Secret: secret})
}

// RotateWebhookSecret generates, persists, and returns a new signing secret
// for an existing integration.
func (h *Handler) RotateWebhookSecret(w http.ResponseWriter, r *http.Request) {
	var req TargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrgURL == "" || req.ProjectName == "" {
		writeError(w, http.StatusBadRequest, "org_url and project_name are required")
		return
	}

	secret, err := h.vault.RotateWebhookSecret(r.Context(), req.OrgURL, req.ProjectName)
	if err != nil {
		h.writeVaultError(w, req.OrgURL, req.ProjectName, "rotate webhook secret", err)
		return
	}

	writeJSON(w, http.StatusOK, WebhookSecretResponse{Secret: secret})
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// writeVaultError maps vault errors to HTTP responses: format failures are
// the caller's to fix, a missing row is 404, everything else is opaque.
func (h *Handler) writeVaultError(w http.ResponseWriter, orgURL, project, op string, err error) {
	switch {
	case errors.Is(err, application.ErrInvalidSecretFormat):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, driven.ErrIntegrationNotFound):
		writeError(w, http.StatusNotFound, "integration not found")
	case errors.Is(err, encrypt.ErrNotInitialized):
		h.logger.Error("vault used before initialization", "op", op, "error", err)
		writeError(w, http.StatusServiceUnavailable, "vault not initialized")
	default:
		h.logger.Error("vault operation failed", "op", op, "org_url", orgURL, "project", project, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
