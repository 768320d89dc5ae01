package encrypt

import "regexp"

// TokenKind identifies the expected shape of a secret handed to the vault.
type TokenKind string

const (
	// TokenKindPAT is a classic personal access token: exactly 52
	// characters drawn from the base64url alphabet.
	TokenKindPAT TokenKind = "pat"

	// TokenKindOAuthRefresh is a delegated-auth refresh secret: three
	// dot-delimited base64url segments of at least 20 characters each.
	TokenKindOAuthRefresh TokenKind = "oauth_refresh"

	// TokenKindWebhookSecret is a webhook signing secret as produced by
	// GenerateSecureKey: at least 22 base64url characters (16 bytes).
	TokenKindWebhookSecret TokenKind = "webhook_secret"
)

var (
	patPattern           = regexp.MustCompile(`^[A-Za-z0-9_-]{52}$`)
	oauthRefreshPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{20,}\.[A-Za-z0-9_-]{20,}\.[A-Za-z0-9_-]{20,}$`)
	webhookSecretPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{22,}$`)
)

// ValidateTokenFormat reports whether token has the exact shape required
// for kind. Pure function, no I/O; unknown kinds never validate.
func ValidateTokenFormat(token string, kind TokenKind) bool {
	switch kind {
	case TokenKindPAT:
		return patPattern.MatchString(token)
	case TokenKindOAuthRefresh:
		return oauthRefreshPattern.MatchString(token)
	case TokenKindWebhookSecret:
		return webhookSecretPattern.MatchString(token)
	}
	return false
}
