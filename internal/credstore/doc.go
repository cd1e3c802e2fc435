// Package credstore persists Google OAuth credentials keyed by email address.
//
// A Store maps a normalized email address to exactly one Record. Several
// backends are available and selected through Config:
//
//   - memory: process-local map, lost on restart
//   - file: a single JSON document holding every record
//   - sqlite: one row per email in a local database
//   - valkey: one key per email on a Valkey (Redis compatible) server
//
// Any backend can be wrapped with Encrypted so that access and refresh
// tokens are sealed with AES-256-GCM before they reach the backend.
//
// Lookups of unknown addresses are not errors: Get reports ok=false.
package credstore
