package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "from-env")
	p := writeFile(t, "name: ${SAMPLE_NAME}\nport: 9000\n")

	cfg := sample{Port: 1}
	if err := Load(p, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "from-env" || cfg.Port != 9000 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	p := writeFile(t, "name: only-name\n")
	cfg := sample{Port: 8080}
	if err := Load(p, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 {
		t.Errorf("default port lost: %+v", cfg)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	p := writeFile(t, "nmae: typo\nport: 1\n")
	cfg := sample{}
	if err := Load(p, &cfg); err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("err = %v, want parse failure", err)
	}
}

func TestLoadValidates(t *testing.T) {
	p := writeFile(t, "port: -1\n")
	cfg := sample{}
	if err := Load(p, &cfg); err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("err = %v, want validation failure", err)
	}
}

func TestLoadOptional(t *testing.T) {
	cfg := sample{Port: 7}
	if err := LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 7 {
		t.Errorf("cfg = %+v", cfg)
	}

	empty := writeFile(t, "")
	if err := LoadOptional(empty, &cfg); err != nil {
		t.Errorf("empty file: %v", err)
	}
}
