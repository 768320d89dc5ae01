package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/planhub/planhub/internal/application"
)

// writeJSON marshals v to JSON and writes it with the given status code.
// If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// IntegrationResponse is the JSON projection of one integration. Secret
// values never appear here, only presence flags.
type IntegrationResponse struct {
	OrgURL           string `json:"org_url"`
	ProjectName      string `json:"project_name"`
	AuthMode         string `json:"auth_mode"`
	HasSecret        bool   `json:"has_secret"`
	HasWebhookSecret bool   `json:"has_webhook_secret"`
	ClientID         string `json:"client_id,omitempty"`
	TenantID         string `json:"tenant_id,omitempty"`
	WebhookURL       string `json:"webhook_url,omitempty"`
	MaxRetryAttempts int    `json:"max_retry_attempts"`
	BaseDelayMS      int    `json:"base_delay_ms"`
	IsEnabled        bool   `json:"is_enabled"`
	ConnectionStatus string `json:"connection_status"`
	LastSyncAt       string `json:"last_sync_at,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

// StoreSecretRequest is the JSON body for storing or updating a secret.
type StoreSecretRequest struct {
	OrgURL      string `json:"org_url"`
	ProjectName string `json:"project_name"`
	Secret      string `json:"secret"`
	AuthMode    string `json:"auth_mode,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	TenantID    string `json:"tenant_id,omitempty"`
	Verified    bool   `json:"verified,omitempty"`
}

// SecretResponse carries a retrieved plaintext secret. Null when the secret
// is unavailable, whether never stored or undecipherable.
type SecretResponse struct {
	Secret *string `json:"secret"`
}

// UpdateConfigRequest is the JSON body for patching non-secret settings.
// Absent fields are left unchanged.
type UpdateConfigRequest struct {
	OrgURL           string  `json:"org_url"`
	ProjectName      string  `json:"project_name"`
	WebhookURL       *string `json:"webhook_url,omitempty"`
	WebhookSecret    *string `json:"webhook_secret,omitempty"`
	MaxRetryAttempts *int    `json:"max_retry_attempts,omitempty"`
	BaseDelayMS      *int    `json:"base_delay_ms,omitempty"`
	IsEnabled        *bool   `json:"is_enabled,omitempty"`
}

// UpdateStatusRequest is the JSON body for recording a connection status.
type UpdateStatusRequest struct {
	OrgURL      string `json:"org_url"`
	ProjectName string `json:"project_name"`
	Status      string `json:"status"`
	LastSyncAt  string `json:"last_sync_at,omitempty"` // RFC3339
}

// TargetRequest names an integration in bodies that need nothing else.
type TargetRequest struct {
	OrgURL      string `json:"org_url"`
	ProjectName string `json:"project_name"`
}

// TestConnectionResponse is the result of a connectivity probe.
type TestConnectionResponse struct {
	Reachable bool `json:"reachable"`
}

// WebhookSecretResponse hands a generated signing secret to the caller.
// This is the only time the plaintext is available.
type WebhookSecretResponse struct {
	Secret string `json:"secret"`
}

// SecretHealthResponse reports the diagnostic state of a stored secret.
type SecretHealthResponse struct {
	State string `json:"state"`
}

// HealthResponse is the body of the process health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// toIntegrationResponse converts a vault projection to its JSON form.
func toIntegrationResponse(v application.IntegrationView) IntegrationResponse {
	resp := IntegrationResponse{
		OrgURL:           v.OrgURL,
		ProjectName:      v.ProjectName,
		AuthMode:         string(v.AuthMode),
		HasSecret:        v.HasSecret,
		HasWebhookSecret: v.HasWebhookSecret,
		ClientID:         v.ClientID,
		TenantID:         v.TenantID,
		WebhookURL:       v.WebhookURL,
		MaxRetryAttempts: v.MaxRetryAttempts,
		BaseDelayMS:      v.BaseDelayMS,
		IsEnabled:        v.IsEnabled,
		ConnectionStatus: string(v.ConnectionStatus),
		CreatedAt:        v.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        v.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if v.LastSyncAt != nil {
		resp.LastSyncAt = v.LastSyncAt.UTC().Format(time.RFC3339)
	}
	return resp
}
