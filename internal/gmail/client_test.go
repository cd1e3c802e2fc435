package gmail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/teemow/inboxrelay/internal/relayerr"
)

// fakeGmail serves the subset of the Gmail REST API the client uses.
// Requests are authorized by their bearer token:
//
//	good    -> normal responses
//	expired -> 401
//	broken  -> 200 with an invalid body
//	down    -> 500
//	quota   -> 429
//	slow    -> waits for the request to be cancelled
type fakeGmail struct {
	*httptest.Server
	calls atomic.Int32

	mu        sync.Mutex
	lastQuery map[string][]string
}

func newFakeGmail(t *testing.T) *fakeGmail {
	t.Helper()
	f := &fakeGmail{}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorize(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"messages": []map[string]string{
				{"id": "m3", "threadId": "t3"},
				{"id": "m1", "threadId": "t1"},
				{"id": "m2", "threadId": "t2"},
			},
			"resultSizeEstimate": 3,
		})
	})

	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorize(w, r) {
			return
		}
		id := r.PathValue("id")
		if id == "missing" {
			writeError(w, http.StatusNotFound, "Requested entity was not found.")
			return
		}
		writeJSON(w, map[string]any{
			"id":      id,
			"snippet": "snippet of " + id,
			"payload": map[string]any{
				"headers": []map[string]string{
					{"name": "Subject", "value": "Hello " + id},
					{"name": "From", "value": "Alice <alice@example.com>"},
					{"name": "Date", "value": "Mon, 1 Jan 2024 10:00:00 +0000"},
				},
			},
		})
	})

	mux.HandleFunc("GET /gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorize(w, r) {
			return
		}
		if bearer(r) == "noaddress" {
			writeJSON(w, map[string]any{"messagesTotal": 1})
			return
		}
		writeJSON(w, map[string]any{"emailAddress": "User@Example.com", "messagesTotal": 42})
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeGmail) authorize(w http.ResponseWriter, r *http.Request) bool {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastQuery = r.URL.Query()
	f.mu.Unlock()

	switch bearer(r) {
	case "good", "noaddress":
		return true
	case "expired":
		writeError(w, http.StatusUnauthorized, "Invalid Credentials")
	case "broken":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{not json"))
	case "slow":
		<-r.Context().Done()
	case "quota":
		writeError(w, http.StatusTooManyRequests, "User-rate limit exceeded")
	default:
		writeError(w, http.StatusInternalServerError, "Backend Error")
	}
	return false
}

func (f *fakeGmail) query() map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": msg},
	})
}

type recordedOp struct {
	service, operation, status string
}

type fakeRecorder struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (r *fakeRecorder) RecordGoogleAPIOperation(_ context.Context, service, operation, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{service, operation, status})
}

func newTestClient(f *fakeGmail, opts ...Option) *Client {
	base := []Option{WithEndpoint(f.URL + "/"), WithHTTPClient(f.Client()), WithTimeout(2 * time.Second)}
	return NewClient(append(base, opts...)...)
}

func TestListMessageIDs_OK(t *testing.T) {
	f := newFakeGmail(t)
	c := newTestClient(f)

	res := c.ListMessageIDs(context.Background(), "good", 7)

	require.Equal(t, ListOK, res.Status, "err: %v", res.Err)
	assert.Equal(t, []string{"m3", "m1", "m2"}, res.IDs)
	assert.Equal(t, []string{"7"}, f.query()["maxResults"])
	assert.Empty(t, f.query()["labelIds"])
}

func TestListMessageIDs_Unauthorized(t *testing.T) {
	f := newFakeGmail(t)
	c := newTestClient(f)

	res := c.ListMessageIDs(context.Background(), "expired", 10)
	assert.Equal(t, ListUnauthorized, res.Status)
	assert.Error(t, res.Err)
}

func TestListMessageIDs_EmptyTokenIsUnauthorized(t *testing.T) {
	f := newFakeGmail(t)
	c := newTestClient(f)

	res := c.ListMessageIDs(context.Background(), "", 10)
	assert.Equal(t, ListUnauthorized, res.Status)
	assert.Zero(t, f.calls.Load())
}

func TestListMessageIDs_TransportErrors(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"server error", "down"},
		{"malformed body", "broken"},
		{"timeout", "slow"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeGmail(t)
			c := newTestClient(f, WithTimeout(100*time.Millisecond))

			res := c.ListMessageIDs(context.Background(), tt.token, 10)
			assert.Equal(t, ListTransportError, res.Status)
			assert.Error(t, res.Err)
			assert.Nil(t, res.IDs)
		})
	}
}

func TestListMessageIDs_UnreachableServer(t *testing.T) {
	f := newFakeGmail(t)
	endpoint := f.URL + "/"
	f.Close()

	c := NewClient(WithEndpoint(endpoint), WithTimeout(time.Second))
	res := c.ListMessageIDs(context.Background(), "good", 10)
	assert.Equal(t, ListTransportError, res.Status)
}

func TestGetMetadata(t *testing.T) {
	f := newFakeGmail(t)
	c := newTestClient(f)

	md, err := c.GetMetadata(context.Background(), "good", "m1")
	require.NoError(t, err)

	assert.Equal(t, "m1", md.ID)
	assert.Equal(t, "snippet of m1", md.Snippet)
	assert.Equal(t, []Header{
		{Name: "Subject", Value: "Hello m1"},
		{Name: "From", Value: "Alice <alice@example.com>"},
		{Name: "Date", Value: "Mon, 1 Jan 2024 10:00:00 +0000"},
	}, md.Headers)

	q := f.query()
	assert.Equal(t, []string{"metadata"}, q["format"])
	assert.ElementsMatch(t, []string{"Subject", "From", "Date"}, q["metadataHeaders"])
}

func TestGetMetadata_Errors(t *testing.T) {
	f := newFakeGmail(t)
	c := newTestClient(f)

	_, err := c.GetMetadata(context.Background(), "good", "missing")
	assert.Error(t, err)

	_, err = c.GetMetadata(context.Background(), "expired", "m1")
	assert.True(t, IsUnauthorized(err))
}

func TestResolveEmail(t *testing.T) {
	f := newFakeGmail(t)
	c := newTestClient(f)

	email, err := c.ResolveEmail(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "User@Example.com", email)
}

func TestResolveEmail_Errors(t *testing.T) {
	f := newFakeGmail(t)
	c := newTestClient(f)

	for _, token := range []string{"", "expired", "down", "noaddress"} {
		t.Run(token, func(t *testing.T) {
			_, err := c.ResolveEmail(context.Background(), token)
			assert.ErrorIs(t, err, relayerr.ErrProfileLookup)
		})
	}
}

func TestBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	f := newFakeGmail(t)
	c := newTestClient(f, WithBreaker(5, time.Minute))

	for i := 0; i < 5; i++ {
		res := c.ListMessageIDs(context.Background(), "down", 10)
		require.Equal(t, ListTransportError, res.Status)
	}
	assert.Equal(t, "open", c.BreakerState())

	before := f.calls.Load()
	res := c.ListMessageIDs(context.Background(), "good", 10)
	assert.Equal(t, ListTransportError, res.Status)
	assert.Equal(t, before, f.calls.Load(), "open breaker must not reach the API")
}

func TestBreaker_IgnoresUnauthorizedAndNotFound(t *testing.T) {
	f := newFakeGmail(t)
	c := newTestClient(f, WithBreaker(2, time.Minute))

	for i := 0; i < 5; i++ {
		assert.Equal(t, ListUnauthorized, c.ListMessageIDs(context.Background(), "expired", 10).Status)
		_, err := c.GetMetadata(context.Background(), "good", "missing")
		assert.Error(t, err)
	}

	assert.Equal(t, "closed", c.BreakerState())
	assert.Equal(t, ListOK, c.ListMessageIDs(context.Background(), "good", 10).Status)
}

func TestBreaker_IgnoresCallerCancellation(t *testing.T) {
	f := newFakeGmail(t)
	c := newTestClient(f, WithBreaker(2, time.Minute))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		res := c.ListMessageIDs(cancelled, "good", 10)
		require.Equal(t, ListTransportError, res.Status)
		assert.ErrorIs(t, res.Err, context.Canceled)
	}

	assert.Equal(t, "closed", c.BreakerState())
	assert.Equal(t, ListOK, c.ListMessageIDs(context.Background(), "good", 10).Status)
}

func TestBreaker_IgnoresPerUserQuota(t *testing.T) {
	f := newFakeGmail(t)
	c := newTestClient(f, WithBreaker(2, time.Minute))

	for i := 0; i < 5; i++ {
		res := c.ListMessageIDs(context.Background(), "quota", 50)
		require.Equal(t, ListTransportError, res.Status)
	}

	assert.Equal(t, "closed", c.BreakerState())
	assert.Equal(t, ListOK, c.ListMessageIDs(context.Background(), "good", 10).Status)
	email, err := c.ResolveEmail(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "User@Example.com", email)
}

func TestRecorder(t *testing.T) {
	f := newFakeGmail(t)
	rec := &fakeRecorder{}
	c := newTestClient(f, WithRecorder(rec))

	c.ListMessageIDs(context.Background(), "good", 10)
	_, _ = c.GetMetadata(context.Background(), "good", "m1")
	_, _ = c.ResolveEmail(context.Background(), "down")

	assert.Equal(t, []recordedOp{
		{"gmail", "list", "success"},
		{"gmail", "get", "success"},
		{"gmail", "profile", "error"},
	}, rec.ops)
}

func TestCallsEmitClientSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	f := newFakeGmail(t)
	c := newTestClient(f)

	c.ListMessageIDs(context.Background(), "good", 10)
	_, _ = c.ResolveEmail(context.Background(), "down")

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "google.gmail.list", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "google.gmail.profile", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestListStatus_String(t *testing.T) {
	assert.Equal(t, "ok", ListOK.String())
	assert.Equal(t, "unauthorized", ListUnauthorized.String())
	assert.Equal(t, "transport_error", ListTransportError.String())
}
