package frontmatter

import (
	"fmt"
	"strings"

	"github.com/starford/pagestore/internal/encryption"
)

// Envelope keys stored as extras on encrypted documents. The ciphertext is
// the document body.
const (
	KeyEncAlg   = "encAlg"
	KeyEncNonce = "encNonce"
	KeyEncTag   = "encTag"
)

// Seal encrypts plain with c, records the envelope in d's extras and
// replaces the body with the ciphertext.
func (d *Document) Seal(c *encryption.Cipher, plain string) error {
	env, err := c.Encrypt([]byte(plain))
	if err != nil {
		return err
	}
	d.Extras.SetString(KeyEncAlg, encryption.Algorithm)
	d.Extras.SetString(KeyEncNonce, env.Nonce)
	d.Extras.SetString(KeyEncTag, env.Tag)
	d.Fields.Encrypted = true
	d.Body = env.Ciphertext + "\n"
	return nil
}

// Unseal removes envelope extras and marks the document as plaintext.
func (d *Document) Unseal(plain string) {
	for _, k := range []string{KeyEncAlg, KeyEncNonce, KeyEncTag} {
		d.Extras.Delete(k)
	}
	d.Fields.Encrypted = false
	d.Body = plain
}

// Envelope extracts the stored envelope of an encrypted document.
func (d *Document) Envelope() (encryption.Envelope, error) {
	if !d.Fields.Encrypted {
		return encryption.Envelope{}, fmt.Errorf("frontmatter: document is not encrypted")
	}
	if alg, ok := d.Extras.String(KeyEncAlg); ok && alg != encryption.Algorithm {
		return encryption.Envelope{}, fmt.Errorf("frontmatter: unsupported envelope %q", alg)
	}
	nonce, okN := d.Extras.String(KeyEncNonce)
	tag, okT := d.Extras.String(KeyEncTag)
	if !okN || !okT {
		return encryption.Envelope{}, fmt.Errorf("frontmatter: envelope fields missing")
	}
	return encryption.Envelope{Nonce: nonce, Tag: tag, Ciphertext: strings.TrimSpace(d.Body)}, nil
}

// OpenBody returns the readable body. Plaintext documents are always ok;
// encrypted ones resolve to ok, locked or failed.
func (d *Document) OpenBody(c *encryption.Cipher) encryption.Result {
	if !d.Fields.Encrypted {
		return encryption.Result{State: encryption.StateOK, Plaintext: []byte(d.Body)}
	}
	env, err := d.Envelope()
	if err != nil {
		if !c.Available() {
			return encryption.Result{State: encryption.StateLocked}
		}
		return encryption.Result{State: encryption.StateFailed, Err: err}
	}
	return c.Decrypt(env)
}
