package credstore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKV is an in-memory stand-in for a Valkey server.
type fakeKV struct {
	mu     sync.Mutex
	data   map[string]string
	closed bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string)}
}

func (f *fakeKV) get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeKV) set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeKV) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func sampleRecord() Record {
	return Record{
		AccessToken:  "ya29.access",
		RefreshToken: "1//refresh",
		ExpiresIn:    3599,
		Scope:        "https://www.googleapis.com/auth/gmail.readonly",
		TokenType:    "Bearer",
		SavedAt:      time.Date(2024, 5, 1, 12, 30, 45, 123000000, time.UTC),
	}
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	ctx := context.Background()

	file, err := OpenFile(filepath.Join(t.TempDir(), "tokens.json"))
	require.NoError(t, err)

	sqlite, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)

	return map[string]Backend{
		TypeMemory: NewMemory(),
		TypeFile:   file,
		TypeSQLite: sqlite,
		TypeValkey: newValkey(newFakeKV(), ""),
	}
}

func TestBackends_RoundTrip(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer b.Close()
			ctx := context.Background()

			rec := sampleRecord()
			require.NoError(t, b.Put(ctx, "user@example.com", rec))

			got, ok, err := b.Get(ctx, "user@example.com")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, rec.AccessToken, got.AccessToken)
			assert.Equal(t, rec.RefreshToken, got.RefreshToken)
			assert.Equal(t, rec.ExpiresIn, got.ExpiresIn)
			assert.Equal(t, rec.Scope, got.Scope)
			assert.Equal(t, rec.TokenType, got.TokenType)
			assert.True(t, rec.SavedAt.Equal(got.SavedAt), "savedAt %v != %v", got.SavedAt, rec.SavedAt)
		})
	}
}

func TestBackends_MissingIsNotError(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer b.Close()

			rec, ok, err := b.Get(context.Background(), "nobody@example.com")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, Record{}, rec)
		})
	}
}

func TestBackends_PutOverwrites(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer b.Close()
			ctx := context.Background()

			first := sampleRecord()
			second := sampleRecord()
			second.AccessToken = "ya29.newer"
			second.RefreshToken = ""

			require.NoError(t, b.Put(ctx, "user@example.com", first))
			require.NoError(t, b.Put(ctx, "user@example.com", second))

			got, ok, err := b.Get(ctx, "user@example.com")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "ya29.newer", got.AccessToken)
			assert.Empty(t, got.RefreshToken)
		})
	}
}

func TestBackends_NormalizeKeys(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer b.Close()
			ctx := context.Background()

			require.NoError(t, b.Put(ctx, "  User@Example.COM ", sampleRecord()))

			_, ok, err := b.Get(ctx, "user@example.com")
			require.NoError(t, err)
			assert.True(t, ok)

			_, ok, err = b.Get(ctx, "USER@EXAMPLE.COM")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestBackends_RejectEmptyEmail(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer b.Close()
			err := b.Put(context.Background(), "   ", sampleRecord())
			assert.ErrorIs(t, err, ErrInvalidEmail)
		})
	}
}

func TestBackends_IndependentKeys(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer b.Close()
			ctx := context.Background()

			a := sampleRecord()
			a.AccessToken = "token-a"
			c := sampleRecord()
			c.AccessToken = "token-c"

			require.NoError(t, b.Put(ctx, "a@example.com", a))
			require.NoError(t, b.Put(ctx, "c@example.com", c))

			got, _, err := b.Get(ctx, "a@example.com")
			require.NoError(t, err)
			assert.Equal(t, "token-a", got.AccessToken)
		})
	}
}

func TestRecord_JSONLossless(t *testing.T) {
	rec := sampleRecord()

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var got Record
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, rec.AccessToken, got.AccessToken)
	assert.True(t, rec.SavedAt.Equal(got.SavedAt))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "accessToken")
	assert.Contains(t, raw, "refreshToken")
	assert.Contains(t, raw, "savedAt")
}

func TestRecord_OmitsEmptyMetadata(t *testing.T) {
	data, err := json.Marshal(Record{AccessToken: "a"})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "expiresIn")
	assert.NotContains(t, raw, "scope")
	assert.NotContains(t, raw, "tokenType")
}

func TestRecord_Usable(t *testing.T) {
	assert.False(t, Record{}.Usable())
	assert.True(t, Record{AccessToken: "a"}.Usable())
	assert.True(t, Record{RefreshToken: "r"}.Usable())
}

func TestNormalizeEmail(t *testing.T) {
	tests := map[string]string{
		"user@example.com":     "user@example.com",
		" User@Example.com\n":  "user@example.com",
		"":                     "",
		"   ":                  "",
		"MIXED.Case@Gmail.COM": "mixed.case@gmail.com",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeEmail(in), "input %q", in)
	}
}

func TestFile_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	ctx := context.Background()

	f, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Put(ctx, "user@example.com", sampleRecord()))

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	got, ok, err := reopened.Get(ctx, "user@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ya29.access", got.AccessToken)
}

func TestSQLite_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "user@example.com", sampleRecord()))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Get(ctx, "user@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1//refresh", got.RefreshToken)
}

func TestValkey_KeyLayout(t *testing.T) {
	kv := newFakeKV()
	v := newValkey(kv, "custom:")
	require.NoError(t, v.Put(context.Background(), "User@Example.com", sampleRecord()))

	raw, ok := kv.data["custom:user@example.com"]
	require.True(t, ok)

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.Equal(t, "ya29.access", rec.AccessToken)

	require.NoError(t, v.Close())
	assert.True(t, kv.closed)
}

func TestValkey_DefaultPrefix(t *testing.T) {
	v := newValkey(newFakeKV(), "")
	assert.Equal(t, "gmail_tokens:a@b.c", v.key("A@B.c"))
}

func TestConfig_ResolvedType(t *testing.T) {
	assert.Equal(t, TypeMemory, Config{}.ResolvedType())
	assert.Equal(t, TypeFile, Config{Path: "tokens.json"}.ResolvedType())
	assert.Equal(t, TypeSQLite, Config{Type: "SQLite", Path: "x.db"}.ResolvedType())
}

func TestConfig_Validate(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{}, false},
		{"file", Config{Type: TypeFile, Path: "t.json"}, false},
		{"file without path", Config{Type: TypeFile}, true},
		{"sqlite without path", Config{Type: TypeSQLite}, true},
		{"valkey", Config{Type: TypeValkey, Valkey: ValkeyConfig{URL: "localhost:6379"}}, false},
		{"valkey without url", Config{Type: TypeValkey}, true},
		{"unknown type", Config{Type: "etcd"}, true},
		{"valid key", Config{EncryptionKey: key}, false},
		{"bad key", Config{EncryptionKey: "c2hvcnQ="}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	key, err := GenerateKey()
	require.NoError(t, err)

	b, err := Open(ctx, Config{Type: TypeSQLite, Path: filepath.Join(t.TempDir(), "t.db"), EncryptionKey: key}, nil)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Put(ctx, "user@example.com", sampleRecord()))
	got, ok, err := b.Get(ctx, "user@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ya29.access", got.AccessToken)

	_, err = Open(ctx, Config{Type: "bogus"}, nil)
	assert.Error(t, err)
}
