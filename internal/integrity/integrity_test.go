package integrity

import "testing"

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"": ModeOff, "off": ModeOff, "WARN": ModeWarn, " strict ": ModeStrict}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil {
			t.Fatalf("ParseMode(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseMode(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseMode("paranoid"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestSignVerify(t *testing.T) {
	s := NewSealer(ModeStrict, []byte("k3y"))
	content := []byte("---\ntitle: A\n---\nbody\n")

	sig, ok := s.Sign(content)
	if !ok {
		t.Fatal("Sign returned ok=false with key configured")
	}
	if got := s.Verify(content, sig, true); got != StatusOK {
		t.Errorf("Verify(original) = %q, want ok", got)
	}
	if got := s.Verify([]byte("tampered"), sig, true); got != StatusMismatch {
		t.Errorf("Verify(tampered) = %q, want mismatch", got)
	}
	if got := s.Verify(content, nil, false); got != StatusUnverifiable {
		t.Errorf("Verify(no sidecar) = %q, want unverifiable", got)
	}
	if got := s.Verify(content, []byte("garbage"), true); got != StatusMismatch {
		t.Errorf("Verify(garbage sidecar) = %q, want mismatch", got)
	}
}

func TestVerify_NoKeyIsUnverifiable(t *testing.T) {
	s := NewSealer(ModeWarn, nil)
	if _, ok := s.Sign([]byte("x")); ok {
		t.Error("Sign without key should not produce a sidecar")
	}
	if got := s.Verify([]byte("x"), []byte("hmac-sha256:00"), true); got != StatusUnverifiable {
		t.Errorf("Verify without key = %q, want unverifiable", got)
	}
}

func TestVerify_Disabled(t *testing.T) {
	s := NewSealer(ModeOff, []byte("k"))
	if s.Enabled() {
		t.Fatal("off mode reports enabled")
	}
	if got := s.Verify([]byte("x"), nil, false); got != StatusDisabled {
		t.Errorf("Verify = %q, want disabled", got)
	}
	var nilSealer *Sealer
	if nilSealer.Enabled() || nilSealer.Mode() != ModeOff {
		t.Error("nil sealer should behave as off")
	}
}
