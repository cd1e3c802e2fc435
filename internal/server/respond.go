package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/teemow/inboxrelay/internal/google"
	"github.com/teemow/inboxrelay/internal/instrumentation"
	"github.com/teemow/inboxrelay/internal/logging"
	"github.com/teemow/inboxrelay/internal/relayerr"
)

// kindInternal is reported for errors that carry no relayerr kind.
const kindInternal = "internal_error"

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch relayerr.KindOf(err) {
	case relayerr.KindValidation:
		return http.StatusBadRequest
	case relayerr.KindNotAuthenticated, relayerr.KindRefresh:
		return http.StatusUnauthorized
	case relayerr.KindForbidden:
		return http.StatusForbidden
	case relayerr.KindAuthExchange:
		if google.IsProviderRejection(err) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as an ErrorResponse. Server side failures are logged
// with their cause; only validation causes are sent to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	kind := relayerr.KindOf(err)

	body := ErrorResponse{Error: string(kind), Message: relayerr.ClientMessage(err)}
	if kind == "" {
		body.Error = kindInternal
	}

	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	attrs := append([]slog.Attr{
		logging.Route(r.Pattern),
		slog.Int("http_status", status),
		logging.Err(err),
	}, instrumentation.TraceAttrs(r.Context())...)
	s.logger.LogAttrs(r.Context(), level, "request failed", attrs...)

	writeJSON(w, status, body)
}
