// Package config loads the optional rc file and merges it over the built-in
// defaults. Flags and environment variables are applied later by the CLI, so
// precedence is defaults, then rc file, then flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/fabworks/kicad-lcsc/core/catalog"
	"github.com/fabworks/kicad-lcsc/core/errors"
	"github.com/fabworks/kicad-lcsc/core/patch"
	"github.com/fabworks/kicad-lcsc/internal/lcsc"
)

// File is the rc file name looked up in the working directory.
const File = ".kicad-lcsc.conf"

// DefaultMaxAge is how long a cached part stays fresh.
const DefaultMaxAge = 720 * time.Hour

// Config holds the merged settings for one invocation.
type Config struct {
	Fields  Fields
	Catalog Catalog
	Cache   Cache
	Patch   Patch
}

// Fields overrides the property key and the derived field names.
type Fields struct {
	Key          string
	Manufacturer string
	MPN          string
}

// Catalog configures the LCSC client.
type Catalog struct {
	BaseURL   string
	Delay     time.Duration
	Timeout   time.Duration
	UserAgent string
}

// Cache configures the local part cache.
type Cache struct {
	Path   string // empty means the per-user default
	MaxAge time.Duration
}

// Patch configures the enrichment gate.
type Patch struct {
	Window      int
	SkipPartial bool
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Fields: Fields{
			Key:          catalog.TargetKey,
			Manufacturer: catalog.FieldManufacturer,
			MPN:          catalog.FieldMPN,
		},
		Catalog: Catalog{
			BaseURL: lcsc.DefaultBaseURL,
			Delay:   lcsc.DefaultDelay,
			Timeout: lcsc.DefaultTimeout,
		},
		Cache: Cache{
			MaxAge: DefaultMaxAge,
		},
		Patch: Patch{
			Window: patch.DefaultWindow,
		},
	}
}

// Dialect returns the patch configuration with the rc overrides applied.
func (c Config) Dialect() *patch.Config {
	d := catalog.DefaultDialect()
	if c.Fields.Key != "" {
		d.Key = c.Fields.Key
	}
	if c.Fields.Manufacturer != "" && c.Fields.MPN != "" {
		d.Fields = []string{c.Fields.Manufacturer, c.Fields.MPN}
	}
	d.Window = c.Patch.Window
	d.SkipPartial = c.Patch.SkipPartial
	return d
}

// FieldValues maps a part onto the configured derived fields.
func (c Config) FieldValues(p catalog.Part) patch.FieldValues {
	return patch.FieldValues{
		c.Fields.Manufacturer: p.Manufacturer,
		c.Fields.MPN:          p.MPN,
	}
}

// rcFile is the parsed shape of an rc file.
type rcFile struct {
	Lines []rcLine `parser:"@@*"`
}

// rcLine is a section header or a key=value property.
type rcLine struct {
	Section  string `parser:"  @Section"`
	Property string `parser:"| @Property"`
}

// Order matters: comments and section headers before the property rule.
var rcLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `[#;][^\r\n]*`},
	{Name: "Section", Pattern: `\[[^\]\r\n]+\]`},
	{Name: "Property", Pattern: `[a-zA-Z][a-zA-Z0-9_.-]*[ \t]*=[^\r\n]*`},
	{Name: "Whitespace", Pattern: `[ \t]+`},
	{Name: "Newline", Pattern: `[\r\n]+`},
})

var rcParser = participle.MustBuild[rcFile](
	participle.Lexer(rcLexer),
	participle.Elide("Comment", "Whitespace", "Newline"),
)

// Load reads and parses the rc file at path over base.
func Load(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, errors.NewIO("read", path, err)
	}
	return Parse(data, path, base)
}

// LoadDefault looks for File in dir and loads it when present. Absence is
// not an error.
func LoadDefault(dir string, base Config) (Config, error) {
	path := filepath.Join(dir, File)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return base, errors.NewIO("stat", path, err)
	}
	return Load(path, base)
}

// Parse applies the rc file in data over base. The path is only used in
// error messages.
func Parse(data []byte, path string, base Config) (Config, error) {
	parsed, err := rcParser.ParseBytes(path, data)
	if err != nil {
		return base, errors.NewParse("config", path, err.Error())
	}

	cfg := base
	section := ""
	for _, line := range parsed.Lines {
		if line.Section != "" {
			section = strings.ToLower(strings.Trim(line.Section, "[]"))
			switch section {
			case "fields", "catalog", "cache", "patch":
			default:
				return base, errors.NewParse("config", path, fmt.Sprintf("unknown section %q", section))
			}
			continue
		}

		idx := strings.Index(line.Property, "=")
		key := strings.ToLower(strings.TrimSpace(line.Property[:idx]))
		value := strings.TrimSpace(line.Property[idx+1:])

		if err := cfg.apply(section, key, value); err != nil {
			return base, errors.NewParse("config", path, err.Error())
		}
	}
	return cfg, nil
}

func (c *Config) apply(section, key, value string) error {
	switch section {
	case "fields":
		switch key {
		case "key":
			c.Fields.Key = value
		case "manufacturer":
			c.Fields.Manufacturer = value
		case "mpn":
			c.Fields.MPN = value
		default:
			return fmt.Errorf("unknown key %q in [fields]", key)
		}
	case "catalog":
		switch key {
		case "base-url":
			c.Catalog.BaseURL = value
		case "delay":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid delay %q: %v", value, err)
			}
			c.Catalog.Delay = d
		case "timeout":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid timeout %q: %v", value, err)
			}
			c.Catalog.Timeout = d
		case "user-agent":
			c.Catalog.UserAgent = value
		default:
			return fmt.Errorf("unknown key %q in [catalog]", key)
		}
	case "cache":
		switch key {
		case "path":
			c.Cache.Path = value
		case "max-age":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid max-age %q: %v", value, err)
			}
			c.Cache.MaxAge = d
		default:
			return fmt.Errorf("unknown key %q in [cache]", key)
		}
	case "patch":
		switch key {
		case "window":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid window %q", value)
			}
			c.Patch.Window = n
		case "skip-partial":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid skip-partial %q", value)
			}
			c.Patch.SkipPartial = b
		default:
			return fmt.Errorf("unknown key %q in [patch]", key)
		}
	case "":
		return fmt.Errorf("key %q outside any section", key)
	}
	return nil
}
