package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/inboxrelay/internal/instrumentation"
	"github.com/teemow/inboxrelay/internal/relayerr"
)

const (
	// DefaultTimeout bounds a single Gmail API call.
	DefaultTimeout = 15 * time.Second

	// DefaultMaxFailures is the number of consecutive failures that opens the breaker.
	DefaultMaxFailures = 5

	// DefaultOpenTimeout is how long the breaker stays open before probing again.
	DefaultOpenTimeout = 30 * time.Second

	userID = "me"
)

// MetadataHeaders are the headers requested for each message.
var MetadataHeaders = []string{"Subject", "From", "Date"}

// defaultHTTPClient is the base client for API calls when none is configured.
var defaultHTTPClient = &http.Client{
	Transport: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	},
}

// Recorder receives one observation per Gmail API call.
type Recorder interface {
	RecordGoogleAPIOperation(ctx context.Context, service, operation, status string, duration time.Duration)
}

// Client calls the Gmail API on behalf of a bearer token.
type Client struct {
	httpClient  *http.Client
	endpoint    string
	timeout     time.Duration
	recorder    Recorder
	maxFailures uint32
	openTimeout time.Duration

	cb *gobreaker.CircuitBreaker
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the base HTTP client. The bearer token is layered on top of its transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithEndpoint overrides the API base URL, e.g. "http://127.0.0.1:1234/".
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithBreaker sets the number of consecutive failures that opens the circuit
// and how long it stays open.
func WithBreaker(maxFailures uint32, openTimeout time.Duration) Option {
	return func(c *Client) {
		if maxFailures > 0 {
			c.maxFailures = maxFailures
		}
		if openTimeout > 0 {
			c.openTimeout = openTimeout
		}
	}
}

// NewClient creates a Gmail client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:  defaultHTTPClient,
		timeout:     DefaultTimeout,
		maxFailures: DefaultMaxFailures,
		openTimeout: DefaultOpenTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	maxFailures := c.maxFailures
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 1,
		Timeout:     c.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: isHealthyResponse,
	})
	return c
}

// BreakerState reports the circuit breaker state ("closed", "open" or "half-open").
func (c *Client) BreakerState() string {
	return c.cb.State().String()
}

// service builds a Gmail service that authenticates with accessToken.
func (c *Client) service(ctx context.Context, accessToken string) (*gmail.Service, error) {
	base := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	hc := oauth2.NewClient(base, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	return gmail.NewService(ctx, opts...)
}

// execute runs fn through the breaker with the per-call timeout, inside a
// client span, and records the outcome.
func (c *Client) execute(ctx context.Context, operation string, fn func(ctx context.Context) (any, error)) (any, error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceGmail, operation)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	res, err := c.cb.Execute(func() (any, error) {
		return fn(ctx)
	})

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	if c.recorder != nil {
		c.recorder.RecordGoogleAPIOperation(ctx, instrumentation.ServiceGmail, operation, status, time.Since(start))
	}
	return res, err
}

// ListStatus tags the outcome of ListMessageIDs.
type ListStatus int

const (
	// ListOK means IDs holds the listed message ids.
	ListOK ListStatus = iota
	// ListUnauthorized means the access token was rejected.
	ListUnauthorized
	// ListTransportError means the listing failed for any other reason.
	ListTransportError
)

func (s ListStatus) String() string {
	switch s {
	case ListOK:
		return "ok"
	case ListUnauthorized:
		return "unauthorized"
	default:
		return "transport_error"
	}
}

// ListResult is the tagged outcome of a message listing.
type ListResult struct {
	Status ListStatus
	IDs    []string
	Err    error
}

// ListMessageIDs lists up to maxResults message ids of the mailbox, most recent first.
func (c *Client) ListMessageIDs(ctx context.Context, accessToken string, maxResults int64) ListResult {
	if accessToken == "" {
		return ListResult{Status: ListUnauthorized, Err: errors.New("empty access token")}
	}

	res, err := c.execute(ctx, instrumentation.OperationList, func(ctx context.Context) (any, error) {
		svc, err := c.service(ctx, accessToken)
		if err != nil {
			return nil, err
		}
		return svc.Users.Messages.List(userID).MaxResults(maxResults).Context(ctx).Do()
	})
	if err != nil {
		if IsUnauthorized(err) {
			return ListResult{Status: ListUnauthorized, Err: err}
		}
		return ListResult{Status: ListTransportError, Err: fmt.Errorf("list messages: %w", err)}
	}

	resp := res.(*gmail.ListMessagesResponse)
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ListResult{Status: ListOK, IDs: ids}
}

// Header is a single message header.
type Header struct {
	Name  string
	Value string
}

// Metadata holds the requested headers and snippet of one message.
type Metadata struct {
	ID      string
	Snippet string
	Headers []Header
}

// GetMetadata fetches the Subject, From and Date headers and the snippet of a message.
func (c *Client) GetMetadata(ctx context.Context, accessToken, id string) (Metadata, error) {
	res, err := c.execute(ctx, instrumentation.OperationGet, func(ctx context.Context) (any, error) {
		svc, err := c.service(ctx, accessToken)
		if err != nil {
			return nil, err
		}
		return svc.Users.Messages.Get(userID, id).
			Format("metadata").
			MetadataHeaders(MetadataHeaders...).
			Context(ctx).
			Do()
	})
	if err != nil {
		return Metadata{}, fmt.Errorf("get message %s: %w", id, err)
	}

	msg := res.(*gmail.Message)
	md := Metadata{ID: msg.Id, Snippet: msg.Snippet}
	if md.ID == "" {
		md.ID = id
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			md.Headers = append(md.Headers, Header{Name: h.Name, Value: h.Value})
		}
	}
	return md, nil
}

// ResolveEmail returns the mailbox address owning accessToken.
func (c *Client) ResolveEmail(ctx context.Context, accessToken string) (string, error) {
	if accessToken == "" {
		return "", relayerr.Newf(relayerr.KindProfileLookup, "gmail.profile", "empty access token")
	}

	res, err := c.execute(ctx, instrumentation.OperationProfile, func(ctx context.Context) (any, error) {
		svc, err := c.service(ctx, accessToken)
		if err != nil {
			return nil, err
		}
		return svc.Users.GetProfile(userID).Context(ctx).Do()
	})
	if err != nil {
		return "", relayerr.New(relayerr.KindProfileLookup, "gmail.profile", err)
	}

	profile := res.(*gmail.Profile)
	if profile.EmailAddress == "" {
		return "", relayerr.Newf(relayerr.KindProfileLookup, "gmail.profile", "profile has no email address")
	}
	return profile.EmailAddress, nil
}

// IsUnauthorized reports whether err is an HTTP 401 from the API.
func IsUnauthorized(err error) bool {
	return apiCode(err) == http.StatusUnauthorized
}

func apiCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}

// isHealthyResponse decides which errors count against the breaker.
// 401, 404, per-user 429 and caller cancellation are not Gmail outages.
func isHealthyResponse(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	switch apiCode(err) {
	case http.StatusUnauthorized, http.StatusNotFound, http.StatusTooManyRequests:
		return true
	}
	return false
}
