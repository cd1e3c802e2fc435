package google

import gmail "google.golang.org/api/gmail/v1"

// DefaultOAuthScopes are the scopes requested at consent time.
// Read-only mail access is all the relay needs.
var DefaultOAuthScopes = []string{
	gmail.GmailReadonlyScope,
}
