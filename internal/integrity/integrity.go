// Package integrity computes and verifies keyed-hash sidecars for documents.
package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Mode selects how sidecars are produced and checked.
type Mode string

// Integrity modes.
const (
	ModeOff    Mode = "off"
	ModeWarn   Mode = "warn"
	ModeStrict Mode = "strict"
)

// ParseMode accepts the config spelling of a mode. Empty means off.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeOff:
		return ModeOff, nil
	case ModeWarn, ModeStrict:
		return m, nil
	default:
		return "", fmt.Errorf("integrity: unknown mode %q", s)
	}
}

// Status classifies the outcome of a verification.
type Status string

// Verification outcomes. Unverifiable means "no evidence", never "bad
// evidence".
const (
	StatusDisabled     Status = "disabled"
	StatusOK           Status = "ok"
	StatusMismatch     Status = "mismatch"
	StatusUnverifiable Status = "unverifiable"
)

// SidecarExt is appended to a document path to name its sidecar.
const SidecarExt = ".sig"

const sidecarPrefix = "hmac-sha256:"

// Sealer signs and verifies document bytes. Its mode and key are fixed at
// construction.
type Sealer struct {
	mode Mode
	key  []byte
}

// NewSealer returns a Sealer. A nil or empty key leaves signing disabled
// even when mode is not off.
func NewSealer(mode Mode, key []byte) *Sealer {
	return &Sealer{mode: mode, key: append([]byte(nil), key...)}
}

// Mode returns the configured mode.
func (s *Sealer) Mode() Mode {
	if s == nil {
		return ModeOff
	}
	return s.mode
}

// Enabled reports whether sidecars are computed and checked at all.
func (s *Sealer) Enabled() bool {
	return s != nil && s.mode != ModeOff && s.mode != ""
}

// Strict reports whether mismatches must fail the read.
func (s *Sealer) Strict() bool {
	return s.Enabled() && s.mode == ModeStrict
}

// Sign returns the sidecar body for content. ok is false when no sidecar
// should be written.
func (s *Sealer) Sign(content []byte) (sidecar []byte, ok bool) {
	if !s.Enabled() || len(s.key) == 0 {
		return nil, false
	}
	return []byte(sidecarPrefix + hex.EncodeToString(s.digest(content)) + "\n"), true
}

// Verify compares content against a sidecar body. present is false when no
// sidecar file exists.
func (s *Sealer) Verify(content, sidecar []byte, present bool) Status {
	if !s.Enabled() {
		return StatusDisabled
	}
	if !present || len(s.key) == 0 {
		return StatusUnverifiable
	}
	raw := strings.TrimSpace(string(sidecar))
	if !strings.HasPrefix(raw, sidecarPrefix) {
		return StatusMismatch
	}
	want, err := hex.DecodeString(strings.TrimPrefix(raw, sidecarPrefix))
	if err != nil {
		return StatusMismatch
	}
	if !hmac.Equal(want, s.digest(content)) {
		return StatusMismatch
	}
	return StatusOK
}

func (s *Sealer) digest(content []byte) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(content)
	return mac.Sum(nil)
}

// SidecarPath returns the sidecar location for a document path.
func SidecarPath(docPath string) string {
	return docPath + SidecarExt
}
