// Package google performs the OAuth2 authorization code flow against Google.
//
// OAuth builds the consent URL, exchanges authorization codes and refreshes
// access tokens. It is constructed explicitly from client credentials, so
// several instances (for example one per test) can coexist.
//
// StateSigner issues and verifies the opaque state parameter that ties a
// callback to a consent redirect issued by this server.
package google
