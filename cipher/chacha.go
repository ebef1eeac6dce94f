package cipher

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/pulsehub/pulsecore/corerr"
)

// ChaCha20Poly1305 is the one concrete Cipher this package ships, as a
// demonstration adapter: the general-purpose crypto library the core treats
// as an external collaborator lives entirely outside this package. Every
// call to Encrypt prepends a fresh random nonce to the ciphertext; Decrypt
// expects that same layout.
type ChaCha20Poly1305 struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
}

// NewChaCha20Poly1305 builds a ChaCha20Poly1305 cipher from a 32-byte key.
func NewChaCha20Poly1305(key []byte) (*ChaCha20Poly1305, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, corerr.Wrap(corerr.Forbidden, "invalid chacha20poly1305 key", err)
	}
	return &ChaCha20Poly1305{aead: aead}, nil
}

// Encrypt seals plaintext under a freshly generated nonce and returns
// nonce||ciphertext.
func (c *ChaCha20Poly1305) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cipher: generating nonce: %w", err)
	}
	out := c.aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, out...), nil
}

// Decrypt splits the leading nonce off ciphertext and opens the remainder.
func (c *ChaCha20Poly1305) Decrypt(ciphertext []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(ciphertext) < n {
		return nil, corerr.New(corerr.ShortFrame, "ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:n], ciphertext[n:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, corerr.Wrap(corerr.Integrity, "chacha20poly1305 authentication failed", err)
	}
	return plaintext, nil
}
