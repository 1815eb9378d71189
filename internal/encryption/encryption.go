// Package encryption seals document bodies with AES-256-GCM.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/starford/pagestore/internal/apperr"
)

// Algorithm names the envelope format written next to an encrypted body.
const Algorithm = "aes-256-gcm"

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

// Envelope is the stored form of an encrypted body. Each field is standard
// base64.
type Envelope struct {
	Nonce      string
	Tag        string
	Ciphertext string
}

// State tags the outcome of a decryption.
type State string

// Decryption outcomes.
const (
	StateOK     State = "ok"
	StateLocked State = "locked"
	StateFailed State = "failed"
)

// Result carries either plaintext (StateOK) or the reason none is available.
type Result struct {
	State     State
	Plaintext []byte
	Err       error
}

// Cipher encrypts and decrypts bodies under one process-wide key. A Cipher
// without a key is valid and reports itself locked.
type Cipher struct {
	aead cipher.AEAD
}

// ParseKey decodes a 32-byte key given as 64 hex characters or base64.
// An empty string yields a nil key.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if len(s) == 2*keySize {
		if k, err := hex.DecodeString(s); err == nil {
			return k, nil
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if k, err := enc.DecodeString(s); err == nil && len(k) == keySize {
			return k, nil
		}
	}
	return nil, fmt.Errorf("encryption: key must be %d bytes as hex or base64", keySize)
}

// New returns a Cipher for key. A nil key produces a locked Cipher.
func New(key []byte) (*Cipher, error) {
	if len(key) == 0 {
		return &Cipher{}, nil
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption: key is %d bytes, want %d", len(key), keySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("encryption: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("encryption: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Available reports whether a key is configured.
func (c *Cipher) Available() bool {
	return c != nil && c.aead != nil
}

// Encrypt seals plain with a fresh random nonce.
func (c *Cipher) Encrypt(plain []byte) (Envelope, error) {
	if !c.Available() {
		return Envelope{}, apperr.ErrEncryptionUnavailable
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("encryption: nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, plain, nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return Envelope{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Tag:        base64.StdEncoding.EncodeToString(tag),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
	}, nil
}

// Decrypt opens env. It never returns an error value directly; tampering,
// wrong keys and malformed envelopes all resolve to StateFailed.
func (c *Cipher) Decrypt(env Envelope) Result {
	if !c.Available() {
		return Result{State: StateLocked, Err: apperr.ErrEncryptionUnavailable}
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != nonceSize {
		return failed("bad nonce")
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil || len(tag) != tagSize {
		return failed("bad tag")
	}
	ct, err := base64.StdEncoding.DecodeString(strings.TrimSpace(env.Ciphertext))
	if err != nil {
		return failed("bad ciphertext")
	}
	plain, err := c.aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return failed("authentication failed")
	}
	return Result{State: StateOK, Plaintext: plain}
}

func failed(reason string) Result {
	return Result{State: StateFailed, Err: fmt.Errorf("%w: %s", apperr.ErrDecryptionFailed, reason)}
}
