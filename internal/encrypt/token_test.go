package encrypt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTokenFormat(t *testing.T) {
	valid52 := "abcdefghijklmnopqrstuvwxyz0123456789ABCDEFGHIJKLMNOP"
	validRefresh := strings.Repeat("a", 30) + "." + strings.Repeat("B", 25) + "." + strings.Repeat("c-_", 10)

	tests := []struct {
		name  string
		token string
		kind  TokenKind
		want  bool
	}{
		{"pat valid 52 chars", valid52, TokenKindPAT, true},
		{"pat with url-safe chars", strings.Repeat("a-_B", 13), TokenKindPAT, true},
		{"pat 51 chars", valid52[:51], TokenKindPAT, false},
		{"pat 53 chars", valid52 + "x", TokenKindPAT, false},
		{"pat invalid char", valid52[:51] + "!", TokenKindPAT, false},
		{"pat with space", valid52[:51] + " ", TokenKindPAT, false},
		{"pat empty", "", TokenKindPAT, false},
		{"pat standard base64 char", valid52[:51] + "+", TokenKindPAT, false},

		{"refresh valid", validRefresh, TokenKindOAuthRefresh, true},
		{"refresh two segments", strings.Repeat("a", 30) + "." + strings.Repeat("b", 30), TokenKindOAuthRefresh, false},
		{"refresh short segment", strings.Repeat("a", 30) + "." + strings.Repeat("b", 10) + "." + strings.Repeat("c", 30), TokenKindOAuthRefresh, false},
		{"refresh invalid char", strings.Repeat("a", 30) + "." + strings.Repeat("b", 30) + "." + strings.Repeat("c", 29) + "=", TokenKindOAuthRefresh, false},
		{"refresh is not a pat", validRefresh, TokenKindPAT, false},

		{"webhook secret valid", strings.Repeat("x", 43), TokenKindWebhookSecret, true},
		{"webhook secret minimum", strings.Repeat("x", 22), TokenKindWebhookSecret, true},
		{"webhook secret too short", strings.Repeat("x", 21), TokenKindWebhookSecret, false},
		{"webhook secret invalid char", strings.Repeat("x", 21) + "/", TokenKindWebhookSecret, false},

		{"unknown kind", valid52, TokenKind("mystery"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateTokenFormat(tt.token, tt.kind))
		})
	}
}
