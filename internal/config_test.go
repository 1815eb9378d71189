package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/pagestore/internal/index"
	"github.com/starford/pagestore/internal/integrity"
	pkgconfig "github.com/starford/pagestore/pkg/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestIntegrityConfig_EmptyModeDefaultsOff(t *testing.T) {
	cfg := IntegrityConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to off: %v", err)
	}
	if cfg.Mode != "off" || cfg.Sealer() != nil {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestIntegrityConfig_KeyOptional(t *testing.T) {
	cfg := IntegrityConfig{Mode: "strict"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("strict without key: %v", err)
	}
	if !cfg.Unsigned() {
		t.Error("strict without key should report unsigned")
	}
	s := cfg.Sealer()
	if !s.Strict() {
		t.Fatal("strict sealer expected")
	}
	if _, ok := s.Sign([]byte("body")); ok {
		t.Error("keyless sealer must not sign")
	}
	if st := s.Verify([]byte("body"), nil, false); st != integrity.StatusUnverifiable {
		t.Errorf("keyless verify = %s, want unverifiable", st)
	}

	cfg.Key = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Unsigned() {
		t.Error("keyed config reported unsigned")
	}
}

func TestIntegrityConfig_InvalidMode(t *testing.T) {
	cfg := IntegrityConfig{Mode: "paranoid", Key: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestEncryptionConfig(t *testing.T) {
	cases := []struct {
		name    string
		key     string
		wantErr bool
		avail   bool
	}{
		{"empty", "", false, false},
		{"hex", strings.Repeat("ab", 32), false, true},
		{"short", "abcd", true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := EncryptionConfig{Key: tc.key}
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantErr {
				return
			}
			c, err := cfg.Cipher()
			if err != nil {
				t.Fatal(err)
			}
			if c.Available() != tc.avail {
				t.Errorf("Available = %v, want %v", c.Available(), tc.avail)
			}
		})
	}
}

func TestIndexConfig(t *testing.T) {
	cfg := NewDefaultConfig().Index
	cfg.Backend = "bleve"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown backend should fail")
	}

	cfg = NewDefaultConfig().Index
	cfg.Backend = index.BackendFlat
	cfg.SQLitePath = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("flat backend does not need a sqlite path: %v", err)
	}
	cfg.FlatPath = ""
	if err := cfg.Validate(); err == nil {
		t.Error("flat backend without a path should fail")
	}

	cfg = NewDefaultConfig().Index
	cfg.AutoRebuild = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("negative auto rebuild should fail")
	}
}

func TestFullConfig_SectionInError(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.App.HTTP.Port = 0
	err := cfg.Validate()
	if err == nil || !strings.HasPrefix(err.Error(), "app:") {
		t.Fatalf("err = %v, want app section failure", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("PAGESTORE_TEST_ROOT", "/srv/pages")
	p := filepath.Join(t.TempDir(), "config.yaml")
	content := `app:
  log_level: debug
  http:
    port: 9090
storage:
  root: ${PAGESTORE_TEST_ROOT}
index:
  backend: flat
  auto_rebuild: 250ms
  watch: false
`
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(p, cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.App.HTTP.Port != 9090 || cfg.App.LogLevel.String() != "DEBUG" {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Storage.Root != "/srv/pages" || cfg.Storage.TempMaxAge != time.Hour {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Index.Backend != index.BackendFlat || cfg.Index.AutoRebuild != 250*time.Millisecond || cfg.Index.Watch {
		t.Errorf("index = %+v", cfg.Index)
	}
}
