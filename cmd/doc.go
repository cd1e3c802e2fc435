// Package cmd implements the command-line interface for inboxrelay.
//
// This package provides the following commands:
//   - serve: Run the HTTP relay (OAuth flow, credential store, inbox API)
//   - auth-url: Print the Google consent URL for manual authorization
//   - generate-key: Print a random key for TOKEN_ENCRYPTION_KEY
//   - version: Display version information
//
// The serve command is the default command when no subcommand is specified.
// Settings come from the environment (and a .env file when present);
// command-line flags override them.
package cmd
