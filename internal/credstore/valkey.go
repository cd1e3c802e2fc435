package credstore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"

	"github.com/valkey-io/valkey-go"
)

// kv is the subset of key-value operations the Valkey backend needs.
type kv interface {
	get(ctx context.Context, key string) (string, bool, error)
	set(ctx context.Context, key, value string) error
	close()
}

// Valkey stores each record as JSON under "<prefix><email>".
type Valkey struct {
	kv     kv
	prefix string
}

// OpenValkey connects to the server described by cfg.
func OpenValkey(_ context.Context, cfg ValkeyConfig) (*Valkey, error) {
	opt := valkey.ClientOption{
		InitAddress: []string{cfg.URL},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	}
	if cfg.TLSEnabled {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("connect valkey %s: %w", cfg.URL, err)
	}
	return newValkey(&valkeyKV{client: client}, cfg.KeyPrefix), nil
}

func newValkey(store kv, prefix string) *Valkey {
	if prefix == "" {
		prefix = DefaultValkeyKeyPrefix
	}
	return &Valkey{kv: store, prefix: prefix}
}

func (v *Valkey) key(email string) string {
	return v.prefix + NormalizeEmail(email)
}

// Get implements Store.
func (v *Valkey) Get(ctx context.Context, email string) (Record, bool, error) {
	raw, ok, err := v.kv.get(ctx, v.key(email))
	if err != nil {
		return Record{}, false, fmt.Errorf("valkey get: %w", err)
	}
	if !ok {
		return Record{}, false, nil
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode credentials: %w", err)
	}
	return rec, true, nil
}

// Put implements Store.
func (v *Valkey) Put(ctx context.Context, email string, rec Record) error {
	if NormalizeEmail(email) == "" {
		return ErrInvalidEmail
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := v.kv.set(ctx, v.key(email), string(data)); err != nil {
		return fmt.Errorf("valkey set: %w", err)
	}
	return nil
}

// Close implements io.Closer.
func (v *Valkey) Close() error {
	v.kv.close()
	return nil
}

type valkeyKV struct {
	client valkey.Client
}

func (c *valkeyKV) get(ctx context.Context, key string) (string, bool, error) {
	s, err := c.client.Do(ctx, c.client.B().Get().Key(key).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s, true, nil
}

func (c *valkeyKV) set(ctx context.Context, key, value string) error {
	return c.client.Do(ctx, c.client.B().Set().Key(key).Value(value).Build()).Error()
}

func (c *valkeyKV) close() {
	c.client.Close()
}
