package credstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/teemow/inboxrelay/internal/logging"
)

// Store reads and writes credential records by email address.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the record for email. A missing record is reported
	// with ok=false and a nil error.
	Get(ctx context.Context, email string) (rec Record, ok bool, err error)

	// Put replaces the record for email.
	Put(ctx context.Context, email string, rec Record) error
}

// Backend is a Store holding resources that must be released.
type Backend interface {
	Store
	io.Closer
}

// Backend types accepted in Config.Type.
const (
	TypeMemory = "memory"
	TypeFile   = "file"
	TypeSQLite = "sqlite"
	TypeValkey = "valkey"
)

// DefaultValkeyKeyPrefix is prepended to every email key in Valkey.
const DefaultValkeyKeyPrefix = "gmail_tokens:"

// ErrInvalidEmail is returned when a record is written without an address.
var ErrInvalidEmail = errors.New("email cannot be empty")

// Config selects and configures a backend.
type Config struct {
	// Type is one of memory, file, sqlite or valkey. When empty, file is
	// used if Path is set and memory otherwise.
	Type string

	// Path is the JSON file or SQLite database location.
	Path string

	// Valkey configures the valkey backend.
	Valkey ValkeyConfig

	// EncryptionKey is a base64 encoded 32-byte AES key. Empty disables encryption.
	EncryptionKey string
}

// ValkeyConfig holds the Valkey connection settings.
type ValkeyConfig struct {
	URL        string
	Password   string
	DB         int
	TLSEnabled bool
	KeyPrefix  string
}

// ResolvedType returns the backend type Open will use.
func (c Config) ResolvedType() string {
	t := strings.ToLower(strings.TrimSpace(c.Type))
	if t != "" {
		return t
	}
	if c.Path != "" {
		return TypeFile
	}
	return TypeMemory
}

// Validate checks that the selected backend has the settings it needs.
func (c Config) Validate() error {
	switch c.ResolvedType() {
	case TypeMemory:
	case TypeFile, TypeSQLite:
		if c.Path == "" {
			return fmt.Errorf("token store path is required for %s backend", c.ResolvedType())
		}
	case TypeValkey:
		if c.Valkey.URL == "" {
			return fmt.Errorf("valkey URL is required for valkey backend")
		}
	default:
		return fmt.Errorf("invalid token store type %q, must be one of: memory, file, sqlite, valkey", c.Type)
	}

	if _, err := KeyFromBase64(c.EncryptionKey); err != nil {
		return err
	}
	return nil
}

// Open creates the backend described by cfg, wrapped with encryption when a key is set.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	var (
		b   Backend
		err error
	)
	switch cfg.ResolvedType() {
	case TypeMemory:
		b = NewMemory()
	case TypeFile:
		b, err = OpenFile(cfg.Path)
	case TypeSQLite:
		b, err = OpenSQLite(ctx, cfg.Path)
	case TypeValkey:
		b, err = OpenValkey(ctx, cfg.Valkey)
	}
	if err != nil {
		return nil, err
	}

	key, _ := KeyFromBase64(cfg.EncryptionKey)
	enc, err := Encrypted(b, key)
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	logger.Info("Credential store opened",
		logging.Backend(cfg.ResolvedType()),
		slog.Bool("encrypted", len(key) > 0))

	return enc, nil
}
