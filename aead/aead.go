// Package aead implements the authenticated encryption used to protect every
// block before it's posted to the chat transport.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

const (
	// KeySize is the length, in bytes, of the raw AES-256 key.
	KeySize = 32

	// NonceSize is the length, in bytes, of the nonce appended to every
	// ciphertext.
	NonceSize = 12

	// TagSize is the length, in bytes, of the GCM authentication tag.
	TagSize = 16

	// Overhead is the number of bytes a Codec adds to a plaintext block.
	Overhead = TagSize + NonceSize
)

// Codec seals and opens blocks with AES-256-GCM. A single Codec is meant to
// be shared by every reader and writer in the process; it holds no mutable
// state beyond the AEAD construction itself, so it's safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a Codec from a base64-encoded 32-byte AES key, as loaded
// from the SECRET_KEY environment variable.
func NewCodec(base64Key string) (*Codec, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("aead: secret key is not valid base64: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("aead: secret key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aead: failed to initialize cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aead: failed to initialize GCM: %w", err)
	}

	return &Codec{aead: gcm}, nil
}

// newNonce builds a 12-byte nonce: the first 8 bytes are the current
// wall-clock nanoseconds since the Unix epoch (big-endian), and the last 4
// are cryptographically random. If the clock can't be read, the whole nonce
// falls back to random bytes. Nonces are never reused across Seal calls
// because the timestamp component advances monotonically in practice and the
// random suffix absorbs same-tick collisions.
func newNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)

	nanos := uint64(time.Now().UnixNano())
	if nanos == 0 {
		if _, err := rand.Read(nonce); err != nil {
			return nil, fmt.Errorf("aead: failed to generate nonce: %w", err)
		}
		return nonce, nil
	}

	for i := 0; i < 8; i++ {
		nonce[7-i] = byte(nanos)
		nanos >>= 8
	}
	if _, err := rand.Read(nonce[8:]); err != nil {
		return nil, fmt.Errorf("aead: failed to generate nonce: %w", err)
	}
	return nonce, nil
}

// Seal encrypts plaintext and returns ciphertext ∥ tag ∥ nonce, matching the
// wire layout that the transport expects for a block attachment. The
// associated data is always empty.
func (c *Codec) Seal(plaintext []byte) ([]byte, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	return append(sealed, nonce...), nil
}

// Open reverses Seal. It expects `in` to be ciphertext ∥ tag ∥ nonce, reads
// the trailing NonceSize bytes as the nonce, and verifies + decrypts the rest
// into a newly allocated slice; `in` is left unchanged. A tag mismatch
// returns ErrDecryptionFailed.
func (c *Codec) Open(in []byte) ([]byte, error) {
	if len(in) < NonceSize+TagSize {
		return nil, fmt.Errorf("%w: block too small to contain a nonce and tag", ErrDecryptionFailed)
	}
	boundary := len(in) - NonceSize
	nonce, sealed := in[boundary:], in[:boundary]

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
