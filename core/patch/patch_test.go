package patch

import (
	"strings"
	"testing"

	"github.com/fabworks/kicad-lcsc/core/errors"
)

func testConfig() *Config {
	return &Config{
		Keyword:      "property",
		Key:          "LCSC",
		ValuePattern: `C[0-9]+`,
		Fields:       []string{"LCSC_Manufacturer", "LCSC_MPN"},
	}
}

const docOne = `(kicad_sch
	(symbol
		(property "LCSC" "C2040"
			(at 0 0 0)
		)
	)
)
`

const docOneEnriched = `(kicad_sch
	(symbol
		(property "LCSC" "C2040"
			(at 0 0 0)
		)
		(property "LCSC_Manufacturer" "Texas Instruments"
			(at 0 0 0)
			(effects
				(font
					(size 1.27 1.27)
				)
				(hide yes)
			)
		)
		(property "LCSC_MPN" "TPS563201DDCR"
			(at 0 0 0)
			(effects
				(font
					(size 1.27 1.27)
				)
				(hide yes)
			)
		)
	)
)
`

func lookupC2040() map[string]FieldValues {
	return map[string]FieldValues{
		"C2040": {
			"LCSC_Manufacturer": "Texas Instruments",
			"LCSC_MPN":          "TPS563201DDCR",
		},
	}
}

func TestLocate(t *testing.T) {
	doc := `(kicad_sch
	(symbol (property "LCSC" "C100") (property "Value" "10k"))
	(symbol (property "LCSC" "C200"))
)
`
	sites, err := Sites(doc, testConfig())
	if err != nil {
		t.Fatalf("Sites() error = %v", err)
	}
	if len(sites) != 2 {
		t.Fatalf("Sites() returned %d sites, want 2", len(sites))
	}
	if sites[0].Value != "C100" || sites[1].Value != "C200" {
		t.Errorf("site values = %q, %q, want C100, C200", sites[0].Value, sites[1].Value)
	}
	if sites[0].Start >= sites[1].Start {
		t.Errorf("sites out of document order: %d, %d", sites[0].Start, sites[1].Start)
	}
	for i, site := range sites {
		if doc[site.Start] != '(' {
			t.Errorf("site %d start does not address an opening delimiter", i)
		}
		region := doc[site.Start:site.End]
		if !strings.HasPrefix(region, `(property "LCSC"`) || !strings.HasSuffix(region, ")") {
			t.Errorf("site %d region = %q, want a complete property record", i, region)
		}
	}
}

func TestLocateRejectsNonHeadMatches(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "keyword mid record",
			doc:  `(comment property "LCSC" "C123" trailing)`,
		},
		{
			name: "keyword inside sloppy quoted text",
			doc:  `(title "property "LCSC" "C777" oops")`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sites, err := Sites(tt.doc, testConfig())
			if err != nil {
				t.Fatalf("Sites() error = %v", err)
			}
			if len(sites) != 0 {
				t.Errorf("Sites() returned %d sites, want 0", len(sites))
			}
		})
	}
}

func TestLocateIgnoresQuotedParens(t *testing.T) {
	doc := `(kicad_sch
	(symbol
		(property "LCSC" "C5678"
			(at 0 0 0)
			(effects
				(font
					(face "Noto Sans (Arabic)")
				)
			)
		)
	)
)
`
	sites, err := Sites(doc, testConfig())
	if err != nil {
		t.Fatalf("Sites() error = %v", err)
	}
	if len(sites) != 1 {
		t.Fatalf("Sites() returned %d sites, want 1", len(sites))
	}
	region := doc[sites[0].Start:sites[0].End]
	if !strings.Contains(region, `(face "Noto Sans (Arabic)")`) {
		t.Errorf("region stopped before the quoted parens: %q", region)
	}
	if !strings.HasPrefix(doc[sites[0].End:], "\n\t)") {
		t.Errorf("region end misplaced, following text = %q", doc[sites[0].End:sites[0].End+4])
	}
}

func TestLocateNestedRecords(t *testing.T) {
	// Target records do not nest in real schematics; when they do anyway,
	// both are located and both get patched.
	doc := `(property "LCSC" "C1" (property "LCSC" "C2"))`
	sites, err := Sites(doc, testConfig())
	if err != nil {
		t.Fatalf("Sites() error = %v", err)
	}
	if len(sites) != 2 {
		t.Fatalf("Sites() returned %d sites, want 2", len(sites))
	}
	if sites[0].Value != "C1" || sites[1].Value != "C2" {
		t.Errorf("site values = %q, %q, want C1, C2", sites[0].Value, sites[1].Value)
	}
	if sites[1].End >= sites[0].End {
		t.Errorf("inner record should close before outer: inner end %d, outer end %d", sites[1].End, sites[0].End)
	}
}

func TestLocateMalformed(t *testing.T) {
	doc := `(kicad_sch (property "LCSC" "C2040"`
	_, err := Sites(doc, testConfig())
	if !errors.Is(err, errors.ErrMalformedDocument) {
		t.Errorf("Sites() error = %v, want ErrMalformedDocument", err)
	}
}

func TestAlreadyEnriched(t *testing.T) {
	record := `(property "LCSC" "C2040")`
	tests := []struct {
		name        string
		tail        string
		skipPartial bool
		window      int
		want        bool
	}{
		{
			name: "both fields present",
			tail: "\n\t(property \"LCSC_Manufacturer\" \"M\")\n\t(property \"LCSC_MPN\" \"P\")",
			want: true,
		},
		{
			name: "only manufacturer present",
			tail: "\n\t(property \"LCSC_Manufacturer\" \"M\")",
			want: false,
		},
		{
			name:        "only manufacturer present with skip partial",
			tail:        "\n\t(property \"LCSC_Manufacturer\" \"M\")",
			skipPartial: true,
			want:        true,
		},
		{
			name: "no fields present",
			tail: "\n\t(property \"Value\" \"10k\")",
			want: false,
		},
		{
			name: "field name without record marker",
			tail: "\n\t; LCSC_Manufacturer LCSC_MPN",
			want: false,
		},
		{
			name: "fields beyond the window",
			tail: strings.Repeat("x", 300) + "(property \"LCSC_Manufacturer\" \"M\")(property \"LCSC_MPN\" \"P\")",
			want: false,
		},
		{
			name:   "fields within a widened window",
			tail:   strings.Repeat("x", 300) + "(property \"LCSC_Manufacturer\" \"M\")(property \"LCSC_MPN\" \"P\")",
			window: 400,
			want:   true,
		},
		{
			name: "empty tail",
			tail: "",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.SkipPartial = tt.skipPartial
			cfg.Window = tt.window
			text := record + tt.tail
			if got := AlreadyEnriched(text, len(record), cfg); got != tt.want {
				t.Errorf("AlreadyEnriched() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInferIndent(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "tab indentation",
			text: "(a\n\t\t(property",
			want: "\t\t",
		},
		{
			name: "space indentation",
			text: "(a\n    (property",
			want: "    ",
		},
		{
			name: "mixed indentation",
			text: "(a\n\t  (property",
			want: "\t  ",
		},
		{
			name: "record at column zero",
			text: "(a)\n(property",
			want: "",
		},
		{
			name: "record at document start",
			text: "(property",
			want: "",
		},
		{
			name: "record after text on the same line",
			text: "(a\n\t(symbol (property",
			want: "\t",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := strings.LastIndex(tt.text, "(property")
			if got := InferIndent(tt.text, start); got != tt.want {
				t.Errorf("InferIndent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSynthesize(t *testing.T) {
	want := "\n" +
		"\t\t(property \"LCSC_Manufacturer\" \"Texas Instruments\"\n" +
		"\t\t\t(at 0 0 0)\n" +
		"\t\t\t(effects\n" +
		"\t\t\t\t(font\n" +
		"\t\t\t\t\t(size 1.27 1.27)\n" +
		"\t\t\t\t)\n" +
		"\t\t\t\t(hide yes)\n" +
		"\t\t\t)\n" +
		"\t\t)"

	got, err := Synthesize("LCSC_Manufacturer", "Texas Instruments", "\t\t")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if got != want {
		t.Errorf("Synthesize() = %q, want %q", got, want)
	}

	// Byte-for-byte deterministic
	again, err := Synthesize("LCSC_Manufacturer", "Texas Instruments", "\t\t")
	if err != nil {
		t.Fatalf("Synthesize() second call error = %v", err)
	}
	if again != got {
		t.Error("Synthesize() is not deterministic")
	}
}

func TestSynthesizeEmptyIndent(t *testing.T) {
	got, err := Synthesize("LCSC_MPN", "RC0402FR-0710KL", "")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if !strings.HasPrefix(got, "\n(property \"LCSC_MPN\" \"RC0402FR-0710KL\"\n\t(at 0 0 0)") {
		t.Errorf("Synthesize() = %q, unexpected shape at zero indent", got)
	}
	if !strings.HasSuffix(got, "\n)") {
		t.Errorf("Synthesize() = %q, want closing delimiter without trailing newline", got)
	}
}

func TestSynthesizeRejectsUnsafeValues(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{name: "embedded quote", value: `10uF "X7R"`},
		{name: "backslash", value: `C:\parts`},
		{name: "newline", value: "line one\nline two"},
		{name: "carriage return", value: "line one\r"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Synthesize("LCSC_MPN", tt.value, "\t")
			if !errors.Is(err, errors.ErrUnsupportedValue) {
				t.Fatalf("Synthesize() error = %v, want ErrUnsupportedValue", err)
			}
			var uvErr *errors.UnsupportedValueError
			if !errors.As(err, &uvErr) {
				t.Fatalf("Synthesize() error type = %T, want *UnsupportedValueError", err)
			}
			if uvErr.Field != "LCSC_MPN" || uvErr.Value != tt.value {
				t.Errorf("error context = %+v, want field LCSC_MPN and the offending value", uvErr)
			}
		})
	}

	t.Run("unsafe field name", func(t *testing.T) {
		_, err := Synthesize(`bad"name`, "value", "")
		if !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("Synthesize() error = %v, want ErrInvalidInput", err)
		}
	})
}

func TestRewriteEnrichesSite(t *testing.T) {
	out, report, err := Rewrite(docOne, testConfig(), lookupC2040())
	if err != nil {
		t.Fatalf("Rewrite() error = %v", err)
	}
	if out != docOneEnriched {
		t.Errorf("Rewrite() output:\n%s\nwant:\n%s", out, docOneEnriched)
	}
	if report.Applied != 1 || report.Skipped != 0 || report.Unresolved != 0 || report.Failed != 0 {
		t.Errorf("report = %+v, want 1 applied and nothing else", report)
	}
	if !report.Changed() {
		t.Error("report.Changed() = false, want true")
	}
}

func TestRewriteIdempotent(t *testing.T) {
	first, _, err := Rewrite(docOne, testConfig(), lookupC2040())
	if err != nil {
		t.Fatalf("first Rewrite() error = %v", err)
	}
	second, report, err := Rewrite(first, testConfig(), lookupC2040())
	if err != nil {
		t.Fatalf("second Rewrite() error = %v", err)
	}
	if second != first {
		t.Error("second rewrite changed an already enriched document")
	}
	if report.Applied != 0 || report.Skipped != 1 {
		t.Errorf("report = %+v, want 0 applied, 1 skipped", report)
	}
	if report.Changed() {
		t.Error("report.Changed() = true, want false")
	}
}

func TestRewriteUnresolved(t *testing.T) {
	doc := strings.ReplaceAll(docOne, "C2040", "C9999")
	out, report, err := Rewrite(doc, testConfig(), lookupC2040())
	if err != nil {
		t.Fatalf("Rewrite() error = %v", err)
	}
	if out != doc {
		t.Error("Rewrite() modified a document with no resolvable sites")
	}
	if report.Applied != 0 || report.Skipped != 0 || report.Unresolved != 1 {
		t.Errorf("report = %+v, want 1 unresolved and nothing else", report)
	}
}

func TestRewriteDuplicateValues(t *testing.T) {
	symbol := `	(symbol
		(property "LCSC" "C2040"
			(at 0 0 0)
		)
	)
`
	doc := "(kicad_sch\n" + symbol + symbol + ")\n"
	out, report, err := Rewrite(doc, testConfig(), lookupC2040())
	if err != nil {
		t.Fatalf("Rewrite() error = %v", err)
	}
	if report.Applied != 2 {
		t.Errorf("report.Applied = %d, want 2", report.Applied)
	}
	if got := strings.Count(out, `(property "LCSC_Manufacturer"`); got != 2 {
		t.Errorf("manufacturer records inserted = %d, want 2", got)
	}
	if got := strings.Count(out, `(property "LCSC_MPN"`); got != 2 {
		t.Errorf("mpn records inserted = %d, want 2", got)
	}

	// Second pass over the output changes nothing
	again, report, err := Rewrite(out, testConfig(), lookupC2040())
	if err != nil {
		t.Fatalf("second Rewrite() error = %v", err)
	}
	if again != out {
		t.Error("second rewrite changed the document")
	}
	if report.Skipped != 2 {
		t.Errorf("report.Skipped = %d, want 2", report.Skipped)
	}
}

func TestRewriteFailedValue(t *testing.T) {
	lookup := map[string]FieldValues{
		"C2040": {
			"LCSC_Manufacturer": `Vendor "quoted"`,
			"LCSC_MPN":          "X1",
		},
	}
	out, report, err := Rewrite(docOne, testConfig(), lookup)
	if err != nil {
		t.Fatalf("Rewrite() error = %v", err)
	}
	if out != docOne {
		t.Error("Rewrite() modified the document despite the synthesis failure")
	}
	if report.Failed != 1 || report.Applied != 0 {
		t.Errorf("report = %+v, want 1 failed, 0 applied", report)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("report.Errors has %d entries, want 1", len(report.Errors))
	}
	if report.Errors[0].Value != "C2040" {
		t.Errorf("report.Errors[0].Value = %q, want C2040", report.Errors[0].Value)
	}
	if !errors.Is(report.Errors[0].Err, errors.ErrUnsupportedValue) {
		t.Errorf("report.Errors[0].Err = %v, want ErrUnsupportedValue", report.Errors[0].Err)
	}
}

func TestRewriteMalformed(t *testing.T) {
	doc := `(kicad_sch (property "LCSC" "C2040"`
	out, _, err := Rewrite(doc, testConfig(), lookupC2040())
	if !errors.Is(err, errors.ErrMalformedDocument) {
		t.Fatalf("Rewrite() error = %v, want ErrMalformedDocument", err)
	}
	if out != "" {
		t.Error("Rewrite() returned output for a malformed document")
	}
}

func TestRewritePreservesBytes(t *testing.T) {
	sites, err := Sites(docOne, testConfig())
	if err != nil {
		t.Fatalf("Sites() error = %v", err)
	}
	end := sites[0].End

	out, _, err := Rewrite(docOne, testConfig(), lookupC2040())
	if err != nil {
		t.Fatalf("Rewrite() error = %v", err)
	}
	if len(out) < len(docOne) {
		t.Fatal("rewrite shrank the document")
	}
	if !strings.HasPrefix(out, docOne[:end]) {
		t.Error("bytes before the insertion point changed")
	}
	if !strings.HasSuffix(out, docOne[end:]) {
		t.Error("bytes after the insertion point changed")
	}
}

func TestRewriteUnresolvedAndAppliedMix(t *testing.T) {
	doc := `(kicad_sch
	(symbol
		(property "LCSC" "C2040"
			(at 0 0 0)
		)
	)
	(symbol
		(property "LCSC" "C9999"
			(at 0 0 0)
		)
	)
)
`
	out, report, err := Rewrite(doc, testConfig(), lookupC2040())
	if err != nil {
		t.Fatalf("Rewrite() error = %v", err)
	}
	if report.Applied != 1 || report.Unresolved != 1 {
		t.Errorf("report = %+v, want 1 applied, 1 unresolved", report)
	}
	if !strings.Contains(out, `(property "LCSC" "C9999"`) {
		t.Error("unresolved record missing from output")
	}
	if strings.Count(out, `(property "LCSC_MPN"`) != 1 {
		t.Error("insertion count mismatch for mixed document")
	}
	if report.Total() != 2 {
		t.Errorf("report.Total() = %d, want 2", report.Total())
	}
}
