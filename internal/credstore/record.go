package credstore

import (
	"strings"
	"time"
)

// Record is the credential set stored for one email address.
type Record struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresIn    int64     `json:"expiresIn,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	TokenType    string    `json:"tokenType,omitempty"`
	SavedAt      time.Time `json:"savedAt"`
}

// Usable reports whether the record holds any token that could authorize a request.
func (r Record) Usable() bool {
	return r.AccessToken != "" || r.RefreshToken != ""
}

// NormalizeEmail returns the canonical store key for an address.
// Surrounding whitespace is removed and the address is lowercased.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
