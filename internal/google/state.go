package google

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultStateMaxAge is how long an issued state value stays valid.
const DefaultStateMaxAge = 10 * time.Minute

// ErrInvalidState is returned for state values that fail verification.
var ErrInvalidState = errors.New("invalid oauth state")

// StateSigner issues and verifies HMAC signed OAuth state values.
// A state is base64url("<nonce>|<unix time>|<signature>").
type StateSigner struct {
	secret []byte
	maxAge time.Duration
}

// NewStateSigner creates a signer. A zero maxAge uses DefaultStateMaxAge.
func NewStateSigner(secret string, maxAge time.Duration) (*StateSigner, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("state secret cannot be empty")
	}
	if maxAge <= 0 {
		maxAge = DefaultStateMaxAge
	}
	return &StateSigner{secret: []byte(secret), maxAge: maxAge}, nil
}

// Issue returns a fresh state value stamped with now.
func (s *StateSigner) Issue(now time.Time) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate state nonce: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(nonce) + "|" + strconv.FormatInt(now.Unix(), 10)
	token := payload + "|" + s.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

// Verify checks the signature and age of state.
func (s *StateSigner) Verify(state string, now time.Time) error {
	if state == "" {
		return fmt.Errorf("%w: missing", ErrInvalidState)
	}
	raw, err := base64.RawURLEncoding.DecodeString(state)
	if err != nil {
		return fmt.Errorf("%w: malformed", ErrInvalidState)
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 3 {
		return fmt.Errorf("%w: malformed", ErrInvalidState)
	}
	payload := parts[0] + "|" + parts[1]
	if !hmac.Equal([]byte(s.sign(payload)), []byte(parts[2])) {
		return fmt.Errorf("%w: bad signature", ErrInvalidState)
	}
	issued, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed", ErrInvalidState)
	}
	age := now.Sub(time.Unix(issued, 0))
	if age > s.maxAge || age < -time.Minute {
		return fmt.Errorf("%w: expired", ErrInvalidState)
	}
	return nil
}

func (s *StateSigner) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
