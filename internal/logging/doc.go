// Package logging provides structured logging helpers for inboxrelay.
//
// All components log through log/slog. This package builds the process
// logger from configuration and centralizes attribute naming so that log
// lines from the router, the inbox reader and the credential store can be
// correlated.
//
// # Usage Patterns
//
//	logger := logging.WithOperation(base, "inbox.list")
//	logger.Info("listed messages",
//	    logging.UserHash(email),
//	    logging.Status(logging.StatusSuccess))
//
// # Security Considerations
//
//   - Email addresses are hashed before logging (UserHash)
//   - Tokens are never logged; SanitizeToken only reports their length
package logging
