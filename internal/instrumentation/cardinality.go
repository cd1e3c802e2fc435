package instrumentation

import "strings"

// ExtractUserDomain reduces an email address to its domain for use as a
// metric label. Addresses without a domain map to "unknown".
//
//	ExtractUserDomain("jane@example.com")  // "example.com"
//	ExtractUserDomain("invalid")           // "unknown"
func ExtractUserDomain(email string) string {
	if email == "" {
		return "unknown"
	}
	parts := strings.Split(email, "@")
	if len(parts) == 2 && parts[1] != "" {
		return strings.ToLower(parts[1])
	}
	return "unknown"
}

// Operation names used for Google API metrics and spans.
const (
	OperationList    = "list"
	OperationGet     = "get"
	OperationProfile = "profile"
)
