package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fabworks/kicad-lcsc/core/catalog"
	"github.com/fabworks/kicad-lcsc/core/errors"
)

const sampleRC = `# project rc
[fields]
key = LCSC
manufacturer = LCSC_Manufacturer
mpn = LCSC_MPN

[catalog]
base-url = https://catalog.example.com/api
delay = 500ms
timeout = 5s
user-agent = fab-tooling/2.1

; cache settings
[cache]
path = /var/cache/kicad-lcsc/parts.db
max-age = 168h

[patch]
window = 400
skip-partial = true
`

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Fields.Key != "LCSC" {
		t.Errorf("Fields.Key = %q, want LCSC", cfg.Fields.Key)
	}
	if cfg.Fields.Manufacturer != "LCSC_Manufacturer" || cfg.Fields.MPN != "LCSC_MPN" {
		t.Errorf("Fields = %+v", cfg.Fields)
	}
	if cfg.Catalog.BaseURL == "" {
		t.Error("Catalog.BaseURL is empty")
	}
	if cfg.Catalog.Delay != 300*time.Millisecond || cfg.Catalog.Timeout != 10*time.Second {
		t.Errorf("Catalog = %+v", cfg.Catalog)
	}
	if cfg.Cache.MaxAge != 720*time.Hour {
		t.Errorf("Cache.MaxAge = %v, want 720h", cfg.Cache.MaxAge)
	}
	if cfg.Patch.Window != 300 || cfg.Patch.SkipPartial {
		t.Errorf("Patch = %+v", cfg.Patch)
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleRC), ".kicad-lcsc.conf", Default())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Catalog.BaseURL != "https://catalog.example.com/api" {
		t.Errorf("BaseURL = %q", cfg.Catalog.BaseURL)
	}
	if cfg.Catalog.Delay != 500*time.Millisecond {
		t.Errorf("Delay = %v, want 500ms", cfg.Catalog.Delay)
	}
	if cfg.Catalog.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Catalog.Timeout)
	}
	if cfg.Catalog.UserAgent != "fab-tooling/2.1" {
		t.Errorf("UserAgent = %q", cfg.Catalog.UserAgent)
	}
	if cfg.Cache.Path != "/var/cache/kicad-lcsc/parts.db" {
		t.Errorf("Cache.Path = %q", cfg.Cache.Path)
	}
	if cfg.Cache.MaxAge != 168*time.Hour {
		t.Errorf("Cache.MaxAge = %v, want 168h", cfg.Cache.MaxAge)
	}
	if cfg.Patch.Window != 400 || !cfg.Patch.SkipPartial {
		t.Errorf("Patch = %+v", cfg.Patch)
	}
}

func TestParsePartialOverride(t *testing.T) {
	rc := "[catalog]\ndelay = 1s\n"
	cfg, err := Parse([]byte(rc), "", Default())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Catalog.Delay != time.Second {
		t.Errorf("Delay = %v, want 1s", cfg.Catalog.Delay)
	}
	// Untouched keys keep their defaults.
	if cfg.Catalog.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want default", cfg.Catalog.Timeout)
	}
	if cfg.Fields.Key != "LCSC" {
		t.Errorf("Fields.Key = %q, want default", cfg.Fields.Key)
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil, "", Default())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg != Default() {
		t.Errorf("Parse(empty) = %+v, want defaults", cfg)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		rc   string
	}{
		{"unknown section", "[network]\ntimeout = 5s\n"},
		{"unknown key", "[catalog]\nproxy = none\n"},
		{"key outside section", "delay = 1s\n"},
		{"bad duration", "[catalog]\ndelay = fast\n"},
		{"bad window", "[patch]\nwindow = wide\n"},
		{"negative window", "[patch]\nwindow = -1\n"},
		{"bad bool", "[patch]\nskip-partial = maybe\n"},
		{"garbage line", "[patch]\n!!!\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.rc), "rc", Default())
			if err == nil {
				t.Fatal("Parse() error = nil, want parse error")
			}
			var parseErr *errors.ParseError
			if !errors.As(err, &parseErr) {
				t.Errorf("error type = %T, want *errors.ParseError", err)
			}
		})
	}
}

func TestParseComments(t *testing.T) {
	rc := "# hash comment\n; semicolon comment\n[patch]\nwindow = 150\n"
	cfg, err := Parse([]byte(rc), "", Default())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Patch.Window != 150 {
		t.Errorf("Window = %d, want 150", cfg.Patch.Window)
	}
}

func TestParseCaseInsensitiveNames(t *testing.T) {
	rc := "[Catalog]\nBase-URL = https://example.com\n"
	cfg, err := Parse([]byte(rc), "", Default())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Catalog.BaseURL != "https://example.com" {
		t.Errorf("BaseURL = %q", cfg.Catalog.BaseURL)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, File)
	if err := os.WriteFile(path, []byte("[patch]\nwindow = 250\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path, Default())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Patch.Window != 250 {
		t.Errorf("Window = %d, want 250", cfg.Patch.Window)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.conf"), Default())
	if err == nil {
		t.Fatal("Load() error = nil, want error")
	}
}

func TestLoadDefault(t *testing.T) {
	dir := t.TempDir()

	// Absent rc file falls back to base.
	cfg, err := LoadDefault(dir, Default())
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}
	if cfg != Default() {
		t.Errorf("LoadDefault() = %+v, want defaults", cfg)
	}

	if err := os.WriteFile(filepath.Join(dir, File), []byte("[cache]\nmax-age = 24h\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cfg, err = LoadDefault(dir, Default())
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}
	if cfg.Cache.MaxAge != 24*time.Hour {
		t.Errorf("MaxAge = %v, want 24h", cfg.Cache.MaxAge)
	}
}

func TestDialect(t *testing.T) {
	cfg := Default()
	d := cfg.Dialect()

	if d.Key != "LCSC" {
		t.Errorf("Key = %q, want LCSC", d.Key)
	}
	if len(d.Fields) != 2 || d.Fields[0] != "LCSC_Manufacturer" || d.Fields[1] != "LCSC_MPN" {
		t.Errorf("Fields = %v", d.Fields)
	}
	if d.Window != 300 || d.SkipPartial {
		t.Errorf("Window/SkipPartial = %d/%v", d.Window, d.SkipPartial)
	}
}

func TestDialectOverrides(t *testing.T) {
	rc := strings.Join([]string{
		"[fields]",
		"key = JLCPCB",
		"manufacturer = JLC_Brand",
		"mpn = JLC_Part",
		"[patch]",
		"window = 512",
		"skip-partial = true",
	}, "\n")

	cfg, err := Parse([]byte(rc), "", Default())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	d := cfg.Dialect()
	if d.Key != "JLCPCB" {
		t.Errorf("Key = %q, want JLCPCB", d.Key)
	}
	if len(d.Fields) != 2 || d.Fields[0] != "JLC_Brand" || d.Fields[1] != "JLC_Part" {
		t.Errorf("Fields = %v", d.Fields)
	}
	if d.Window != 512 || !d.SkipPartial {
		t.Errorf("Window/SkipPartial = %d/%v", d.Window, d.SkipPartial)
	}
}

func TestFieldValues(t *testing.T) {
	cfg := Default()
	cfg.Fields.Manufacturer = "Brand"
	cfg.Fields.MPN = "PartNo"

	fv := cfg.FieldValues(catalog.Part{Manufacturer: "YAGEO", MPN: "RC0603FR-0710KL"})
	if fv["Brand"] != "YAGEO" || fv["PartNo"] != "RC0603FR-0710KL" {
		t.Errorf("FieldValues = %v", fv)
	}
}
