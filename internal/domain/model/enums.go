package model

// AuthMode selects how an integration authenticates against the external
// work-tracking service.
type AuthMode string

const (
	AuthModePAT   AuthMode = "pat"   // personal access token stored in the vault
	AuthModeOAuth AuthMode = "oauth" // delegated auth; client/tenant IDs plus a refresh secret
)

// ValidAuthMode reports whether m is one of the known auth modes.
func ValidAuthMode(m AuthMode) bool {
	return m == AuthModePAT || m == AuthModeOAuth
}

// ConnectionStatus is the cached last-known reachability of an integration.
// It is advisory, not a guard: any status may overwrite any other, because
// it only records the outcome of the most recent probe or explicit reset.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// ValidConnectionStatus reports whether s is one of the known status values.
func ValidConnectionStatus(s ConnectionStatus) bool {
	switch s {
	case StatusDisconnected, StatusConnected, StatusError:
		return true
	}
	return false
}
