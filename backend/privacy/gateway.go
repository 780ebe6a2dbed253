package privacy

import (
	"context"
	"fmt"
	"log/slog"
)

// Decryptor opens sealed values. It never fails: anything it cannot or may
// not open comes back as Sentinel.
type Decryptor interface {
	Decrypt(ciphertext string) any
}

type keyDecryptor struct {
	cipher *Cipher
}

func (d keyDecryptor) Decrypt(ciphertext string) any {
	v, err := d.cipher.Open(ciphertext)
	if err != nil {
		slog.Warn("decryption fell back to sentinel", "error", err)
		return Sentinel
	}
	return v
}

type noopDecryptor struct{}

func (noopDecryptor) Decrypt(string) any {
	return Sentinel
}

// NoAccess is the decryptor for callers with no key.
var NoAccess Decryptor = noopDecryptor{}

// Gateway is the encryption entry point used by the engine.
type Gateway struct {
	registry *Registry
}

func NewGateway(registry *Registry) *Gateway {
	return &Gateway{registry: registry}
}

// ResetCredentials forgets the cached credential table and key.
func (g *Gateway) ResetCredentials() {
	g.registry.Reset()
}

// Encrypt seals plaintext under the primary key. Failures are
// configuration problems and must abort the write.
func (g *Gateway) Encrypt(ctx context.Context, plaintext any) (string, error) {
	c, err := g.registry.Cipher(ctx)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return c.Seal(plaintext)
}

// ResolveDecryptor picks the key a caller may use. The master credential
// gets the primary key. So does a credential registered to one of the
// contract's parties. Everyone else gets NoAccess.
func (g *Gateway) ResolveDecryptor(ctx context.Context, credential string, partyCodes []string) Decryptor {
	if credential == "" {
		return NoAccess
	}
	creds, err := g.registry.Current(ctx)
	if err != nil {
		slog.Warn("credential lookup failed", "error", err)
		return NoAccess
	}

	allowed := credential == creds.Master
	if !allowed {
		for _, code := range partyCodes {
			if key, ok := creds.PartyKeys[code]; ok && key == credential {
				allowed = true
				break
			}
		}
	}
	if !allowed {
		return NoAccess
	}

	c, err := g.registry.Cipher(ctx)
	if err != nil {
		slog.Warn("no decryption key available", "error", err)
		return NoAccess
	}
	return keyDecryptor{cipher: c}
}

// Internal returns a decryptor for engine use, such as reading a
// contract's transaction logic.
func (g *Gateway) Internal(ctx context.Context) (Decryptor, error) {
	c, err := g.registry.Cipher(ctx)
	if err != nil {
		return nil, err
	}
	return keyDecryptor{cipher: c}, nil
}

// IsMaster reports whether credential is the master credential.
func (g *Gateway) IsMaster(ctx context.Context, credential string) bool {
	creds, err := g.registry.Current(ctx)
	return err == nil && credential != "" && credential == creds.Master
}

// PartyFor returns the party code registered to credential.
func (g *Gateway) PartyFor(ctx context.Context, credential string) (string, bool) {
	creds, err := g.registry.Current(ctx)
	if err != nil || credential == "" {
		return "", false
	}
	for code, key := range creds.PartyKeys {
		if key == credential {
			return code, true
		}
	}
	return "", false
}

// Sealer adapts the gateway to model.Encrypter for one request.
type Sealer struct {
	ctx context.Context
	g   *Gateway
}

func (g *Gateway) Sealer(ctx context.Context) Sealer {
	return Sealer{ctx: ctx, g: g}
}

func (s Sealer) Encrypt(plaintext any) (string, error) {
	return s.g.Encrypt(s.ctx, plaintext)
}
