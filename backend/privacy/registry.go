package privacy

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/config"
)

// Credentials is the key material and the credential table.
type Credentials struct {
	Master     string
	PartyKeys  map[string]string // party code -> credential
	KeyID      string
	PrimaryKey []byte
}

// CredentialSource loads credentials from wherever they are kept.
type CredentialSource interface {
	Load(ctx context.Context) (Credentials, error)
}

// StaticSource serves credentials from the config file.
type StaticSource struct {
	Crypto      config.CryptoConfig
	Credentials config.CredentialsConfig
}

func (s StaticSource) Load(ctx context.Context) (Credentials, error) {
	creds := Credentials{
		Master:    s.Credentials.MasterKey,
		PartyKeys: make(map[string]string, len(s.Credentials.PartyKeys)),
		KeyID:     s.Crypto.KeyID,
	}
	for _, kv := range s.Credentials.PartyKeys {
		creds.PartyKeys[kv.Key] = kv.Value
	}
	if s.Crypto.PrimaryKey != "" {
		key, err := base64.StdEncoding.DecodeString(s.Crypto.PrimaryKey)
		if err != nil {
			return Credentials{}, fmt.Errorf("decode crypto.primary_key: %w", err)
		}
		creds.PrimaryKey = key
	}
	return creds, nil
}

// Registry caches credentials for a bounded window. It is the one piece of
// process-wide state the engine keeps.
type Registry struct {
	source  CredentialSource
	refresh time.Duration
	now     func() time.Time

	mu       sync.Mutex
	cached   *Credentials
	cipher   *Cipher
	loadedAt time.Time
}

func NewRegistry(source CredentialSource, refresh time.Duration) *Registry {
	return &Registry{source: source, refresh: refresh, now: time.Now}
}

// Current returns cached credentials, reloading when the window has passed.
func (r *Registry) Current(ctx context.Context) (Credentials, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && (r.refresh <= 0 || r.now().Sub(r.loadedAt) < r.refresh) {
		return *r.cached, nil
	}

	creds, err := r.source.Load(ctx)
	if err != nil {
		return Credentials{}, err
	}
	r.cached = &creds
	r.cipher = nil
	r.loadedAt = r.now()
	slog.Debug("credentials loaded", "key_id", creds.KeyID, "parties", len(creds.PartyKeys))
	return creds, nil
}

// Cipher returns a cipher over the primary key.
func (r *Registry) Cipher(ctx context.Context) (*Cipher, error) {
	creds, err := r.Current(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cipher != nil {
		return r.cipher, nil
	}
	if len(creds.PrimaryKey) == 0 {
		return nil, ErrMissingKey
	}
	c, err := NewCipher(creds.KeyID, creds.PrimaryKey)
	if err != nil {
		return nil, err
	}
	r.cipher = c
	return c, nil
}

// Reset drops cached credentials so the next call reloads them.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
	r.cipher = nil
}
