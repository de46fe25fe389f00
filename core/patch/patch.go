// Package patch implements idempotent, format-preserving enrichment of
// S-expression documents. It locates records carrying a configured target
// key, decides whether derived sibling records are already present, and
// splices synthesized siblings after each record end while copying every
// other byte of the document through verbatim. No parse tree is built and
// nothing outside the insertion points is reformatted.
package patch

import (
	"iter"
	"regexp"
	"strings"

	"github.com/fabworks/kicad-lcsc/core/errors"
	"github.com/fabworks/kicad-lcsc/core/sexpr"
)

// DefaultWindow is the gate lookahead, in bytes, past a record end when the
// dialect does not set one. It comfortably covers one synthesized sibling
// block per derived field at typical indentation.
const DefaultWindow = 300

// Config describes the document dialect and the enrichment shape. The zero
// value is not usable; see catalog.DefaultDialect for the standard KiCad
// LCSC configuration.
type Config struct {
	// Keyword is the record keyword carrying key/value pairs, e.g. "property".
	Keyword string
	// Key is the target key name whose records get enriched, e.g. "LCSC".
	Key string
	// ValuePattern matches eligible key values, unanchored; the surrounding
	// quotes in the document anchor it, e.g. `C[0-9]+`.
	ValuePattern string
	// Fields is the ordered list of derived field names to synthesize.
	Fields []string
	// Window is the gate lookahead in bytes; 0 means DefaultWindow.
	Window int
	// SkipPartial treats a record as enriched when any one derived field is
	// present in the window. The default requires all of them, which mirrors
	// historical behavior and can duplicate fields on partially enriched
	// documents.
	SkipPartial bool
}

func (c *Config) validate() error {
	switch {
	case c == nil:
		return errors.NewValidation("config", "must not be nil")
	case c.Keyword == "":
		return errors.NewValidation("keyword", "must not be empty")
	case c.Key == "":
		return errors.NewValidation("key", "must not be empty")
	case c.ValuePattern == "":
		return errors.NewValidation("value pattern", "must not be empty")
	case len(c.Fields) == 0:
		return errors.NewValidation("fields", "must name at least one derived field")
	}
	return nil
}

// siteRegexp matches the keyword, key and candidate value token sequence.
// The record's opening delimiter is intentionally outside the match; the
// locator walks back to it and verifies the keyword heads the record.
func (c *Config) siteRegexp() (*regexp.Regexp, error) {
	expr := regexp.QuoteMeta(c.Keyword) + `\s+"` + regexp.QuoteMeta(c.Key) + `"\s+"(` + c.ValuePattern + `)"`
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.NewValidation("value pattern", "does not compile: "+err.Error())
	}
	return re, nil
}

// window returns the effective gate lookahead.
func (c *Config) window() int {
	if c.Window > 0 {
		return c.Window
	}
	return DefaultWindow
}

// Site is one matched target record.
type Site struct {
	Value string // matched key value, e.g. "C2040"
	Start int    // offset of the record's opening delimiter
	End   int    // exclusive end of the record
}

// Locate yields every target record in document order as a lazy sequence.
// The sequence is finite, single pass, and restartable by calling Locate
// again. A scanner failure yields one error and ends the sequence; partial
// results before it remain valid.
func Locate(text string, cfg *Config) iter.Seq2[Site, error] {
	return func(yield func(Site, error) bool) {
		if err := cfg.validate(); err != nil {
			yield(Site{}, err)
			return
		}
		re, err := cfg.siteRegexp()
		if err != nil {
			yield(Site{}, err)
			return
		}

		pos := 0
		for pos < len(text) {
			m := re.FindStringSubmatchIndex(text[pos:])
			if m == nil {
				return
			}
			kwStart := pos + m[0]
			value := text[pos+m[2] : pos+m[3]]
			pos += m[1]

			start, err := sexpr.StartOfRecord(text, kwStart)
			if err != nil {
				yield(Site{}, err)
				return
			}
			// A hit whose keyword is not the record head is text inside some
			// other record (or a quoted string), not a target record.
			if strings.TrimSpace(text[start+1:kwStart]) != "" {
				continue
			}
			end, err := sexpr.FindMatchingClose(text, start)
			if err != nil {
				yield(Site{}, err)
				return
			}
			if !yield(Site{Value: value, Start: start, End: end}, nil) {
				return
			}
		}
	}
}

// Sites collects the full site list for a document.
func Sites(text string, cfg *Config) ([]Site, error) {
	var sites []Site
	for site, err := range Locate(text, cfg) {
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, nil
}

// AlreadyEnriched reports whether the derived fields are already present in
// the bounded window following recordEnd. Every configured field name must
// appear as a field-record marker for the record to count as enriched,
// unless SkipPartial is set, in which case one is enough. The window is
// clamped to the end of the document.
func AlreadyEnriched(text string, recordEnd int, cfg *Config) bool {
	end := recordEnd + cfg.window()
	if end > len(text) {
		end = len(text)
	}
	if recordEnd > end {
		return false
	}
	chunk := text[recordEnd:end]

	found := 0
	for _, name := range cfg.Fields {
		marker := "(" + cfg.Keyword + ` "` + name + `"`
		if strings.Contains(chunk, marker) {
			found++
		}
	}
	if cfg.SkipPartial {
		return found > 0
	}
	return found == len(cfg.Fields) && found > 0
}

// InferIndent returns the leading whitespace of the line containing
// recordStart. A record at the start of the document or on an unindented
// line yields the empty string.
func InferIndent(text string, recordStart int) string {
	if recordStart < 0 || recordStart > len(text) {
		return ""
	}
	lineStart := strings.LastIndexByte(text[:recordStart], '\n') + 1
	i := lineStart
	for i < recordStart && (text[i] == ' ' || text[i] == '\t') {
		i++
	}
	return text[lineStart:i]
}
