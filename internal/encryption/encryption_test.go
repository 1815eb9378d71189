package encryption

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/starford/pagestore/internal/apperr"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	if _, err := rand.Read(k); err != nil {
		t.Fatal(err)
	}
	return k
}

func TestEncryptDecrypt(t *testing.T) {
	c, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	env, err := c.Encrypt([]byte("secret body"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if env.Nonce == "" || env.Tag == "" || env.Ciphertext == "" {
		t.Fatalf("incomplete envelope: %+v", env)
	}
	res := c.Decrypt(env)
	if res.State != StateOK || string(res.Plaintext) != "secret body" {
		t.Errorf("Decrypt = %+v", res)
	}
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	a, _ := New(testKey(t))
	b, _ := New(testKey(t))
	env, _ := a.Encrypt([]byte("secret"))

	res := b.Decrypt(env)
	if res.State != StateFailed {
		t.Fatalf("state = %q, want failed", res.State)
	}
	if res.Plaintext != nil {
		t.Error("failed decryption leaked plaintext")
	}
	if !errors.Is(res.Err, apperr.ErrDecryptionFailed) {
		t.Errorf("err = %v", res.Err)
	}
}

func TestDecrypt_NoKeyIsLocked(t *testing.T) {
	a, _ := New(testKey(t))
	env, _ := a.Encrypt([]byte("secret"))

	locked, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	res := locked.Decrypt(env)
	if res.State != StateLocked || res.Plaintext != nil {
		t.Errorf("Decrypt without key = %+v, want locked", res)
	}
	if _, err := locked.Encrypt([]byte("x")); !errors.Is(err, apperr.ErrEncryptionUnavailable) {
		t.Errorf("Encrypt without key err = %v", err)
	}
}

func TestDecrypt_Tampered(t *testing.T) {
	c, _ := New(testKey(t))
	env, _ := c.Encrypt([]byte("secret body"))
	ct, _ := base64.StdEncoding.DecodeString(env.Ciphertext)
	ct[0] ^= 0xff
	env.Ciphertext = base64.StdEncoding.EncodeToString(ct)

	if res := c.Decrypt(env); res.State != StateFailed {
		t.Errorf("tampered state = %q, want failed", res.State)
	}
	if res := c.Decrypt(Envelope{Nonce: "!!", Tag: "x", Ciphertext: "y"}); res.State != StateFailed {
		t.Errorf("malformed state = %q, want failed", res.State)
	}
}

func TestParseKey(t *testing.T) {
	k := testKey(t)
	for _, s := range []string{hex.EncodeToString(k), base64.StdEncoding.EncodeToString(k)} {
		got, err := ParseKey(s)
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", s, err)
		}
		if !bytes.Equal(got, k) {
			t.Errorf("ParseKey(%q) mismatch", s)
		}
	}
	if got, err := ParseKey(""); err != nil || got != nil {
		t.Errorf("ParseKey(empty) = %v, %v", got, err)
	}
	if _, err := ParseKey("too-short"); err == nil {
		t.Error("expected error for short key")
	}
}
