// Package server provides the HTTP surface of inboxrelay.
//
// # Key Components
//
// Server routes requests to the OAuth flow, the credential store and the
// inbox reader:
//   - GET /auth and GET /auth/url start the Google consent flow
//   - GET /auth/callback exchanges the code and records the credentials
//   - GET|POST /api/check-auth (alias /check) reports whether an email is known
//   - GET /api/messages (alias /inbox) lists recent message summaries
//
// HealthChecker serves the /healthz and /readyz probes. MetricsServer exposes
// Prometheus metrics on a dedicated port.
//
// # Middleware
//
// Requests pass through CORS handling, request metrics keyed by route
// pattern, an optional per-IP rate limit, and, on the message routes, an
// optional access key check against the x-access-key header.
//
// Failures are written as JSON {"error": "<kind>", "message": "<text>"}
// with the status derived from the relayerr kind.
package server
