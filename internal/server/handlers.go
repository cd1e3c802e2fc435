package server

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/teemow/inboxrelay/internal/credstore"
	"github.com/teemow/inboxrelay/internal/google"
	"github.com/teemow/inboxrelay/internal/inbox"
	"github.com/teemow/inboxrelay/internal/instrumentation"
	"github.com/teemow/inboxrelay/internal/logging"
	"github.com/teemow/inboxrelay/internal/relayerr"
)

// indexText is served on / as a liveness message.
const indexText = "inboxrelay is running. Use /auth to authenticate."

// AuthenticatedEmailKey is the localStorage key set by the callback page.
const AuthenticatedEmailKey = "gmail_authenticated_email"

// maxCheckAuthBody bounds the JSON body accepted by the check routes.
const maxCheckAuthBody = 4 << 10

var callbackPage = template.Must(template.New("callback").Parse(`<!doctype html>
<html>
  <head><meta charset="utf-8"><title>Auth complete</title></head>
  <body>
    <script>
      localStorage.setItem({{.StorageKey}}, {{.Email}});
      window.location.href = "/";
    </script>
    <p>Authorized {{.Email}}. <a href="/">Continue</a></p>
  </body>
</html>
`))

// AuthURLResponse is the body of GET /auth/url.
type AuthURLResponse struct {
	URL string `json:"url"`
}

// CheckAuthResponse is the body of the check-auth routes.
type CheckAuthResponse struct {
	Authenticated bool `json:"authenticated"`
}

// MessagesResponse is the body of the message routes.
type MessagesResponse struct {
	Messages []inbox.Summary `json:"messages"`
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(indexText))
}

func (s *Server) handleAuthRedirect(w http.ResponseWriter, r *http.Request) {
	authURL, err := s.authURL()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) handleAuthURL(w http.ResponseWriter, r *http.Request) {
	authURL, err := s.authURL()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthURLResponse{URL: authURL})
}

// authURL builds the consent URL, with a signed state when signing is on.
func (s *Server) authURL() (string, error) {
	var state string
	if s.signer != nil {
		var err error
		state, err = s.signer.Issue(s.now())
		if err != nil {
			return "", err
		}
	}
	return s.oauth.AuthURL(state), nil
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	const op = "server.callback"
	ctx := r.Context()
	q := r.URL.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		s.authFailed(r, "consent denied: "+providerErr)
		s.writeError(w, r, relayerr.Newf(relayerr.KindValidation, op, "provider returned error %q", providerErr))
		return
	}

	code := q.Get("code")
	if code == "" {
		s.writeError(w, r, relayerr.Newf(relayerr.KindValidation, op, "missing authorization code"))
		return
	}

	if s.signer != nil {
		if err := s.signer.Verify(q.Get("state"), s.now()); err != nil {
			s.authFailed(r, "invalid state")
			s.writeError(w, r, relayerr.New(relayerr.KindValidation, op, err))
			return
		}
	}

	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		s.authFailed(r, "code exchange failed")
		s.writeError(w, r, err)
		return
	}

	email, err := s.profiles.ResolveEmail(ctx, tok.AccessToken)
	if err != nil {
		s.authFailed(r, "profile lookup failed")
		s.writeError(w, r, err)
		return
	}
	email = credstore.NormalizeEmail(email)

	rec := google.RecordFromToken(tok, s.now())
	if rec.RefreshToken == "" {
		// Keep the previous refresh token when consent did not issue a new one.
		if prev, ok, err := s.store.Get(ctx, email); err == nil && ok {
			rec.RefreshToken = prev.RefreshToken
		}
	}
	if err := s.store.Put(ctx, email, rec); err != nil {
		s.authFailed(r, "credential store write failed")
		s.writeError(w, r, relayerr.New(relayerr.KindStorage, op, err))
		return
	}

	s.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultSuccess, email)
	s.audit.Log(ctx, instrumentation.AuditEvent{
		Action:    instrumentation.AuditAuthorized,
		UserEmail: email,
		Success:   true,
		ClientIP:  clientIP(r, s.trustProxy),
	})
	s.logger.Info("gmail authorized",
		logging.Operation(op),
		logging.UserHash(email),
		slog.Bool("has_refresh_token", rec.RefreshToken != ""))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := callbackPage.Execute(w, struct {
		StorageKey string
		Email      string
	}{AuthenticatedEmailKey, email}); err != nil {
		s.logger.Error("render callback page", logging.Err(err))
	}
}

func (s *Server) authFailed(r *http.Request, reason string) {
	s.metrics.RecordOAuthAuth(r.Context(), instrumentation.OAuthResultFailure, "")
	s.audit.Log(r.Context(), instrumentation.AuditEvent{
		Action:   instrumentation.AuditAuthFailed,
		Success:  false,
		Reason:   reason,
		ClientIP: clientIP(r, s.trustProxy),
	})
}

// handleCheckAuth reports whether credentials exist for an email. The email
// comes from the query string or a JSON body. It never fails: a missing
// email or an unreadable store answers false.
func (s *Server) handleCheckAuth(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" && r.Method == http.MethodPost {
		var body struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCheckAuthBody)).Decode(&body); err == nil {
			email = body.Email
		}
	}
	email = credstore.NormalizeEmail(email)

	var found bool
	if email != "" {
		var err error
		_, found, err = s.store.Get(r.Context(), email)
		if err != nil {
			s.logger.Warn("credential lookup failed",
				logging.Operation("server.check_auth"),
				logging.UserHash(email),
				logging.Err(err))
			found = false
		}
	}
	writeJSON(w, http.StatusOK, CheckAuthResponse{Authenticated: found})
}

// handleMessages lists recent messages. A max that is absent or not an
// integer selects the default count.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	email := credstore.NormalizeEmail(q.Get("email"))
	if email == "" {
		s.writeError(w, r, relayerr.Newf(relayerr.KindValidation, "server.messages", "email query parameter is required"))
		return
	}
	maxResults, err := strconv.Atoi(q.Get("max"))
	if err != nil {
		maxResults = 0
	}

	messages, err := s.inbox.ListRecent(r.Context(), email, maxResults)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessagesResponse{Messages: messages})
}
