package sexpr

import (
	"strings"
	"testing"
)

// FuzzFindMatchingClose tests the balanced-region scanner with fuzzing
func FuzzFindMatchingClose(f *testing.F) {
	// Seed corpus with representative documents
	f.Add(`(a b c)`, 0)
	f.Add(`(a (b (c)) d)`, 0)
	f.Add(`(property "LCSC" "C2040")`, 0)
	f.Add(`(value "((parens))" end)`, 0)
	f.Add(`(p "\"quoted\"")`, 0)
	f.Add(`(p "trailing\\")`, 0)
	f.Add(`(unbalanced (`, 0)
	f.Add(`(a "unterminated`, 0)
	f.Add(``, 0)
	f.Add(`)`, 0)
	f.Add("(property \"LCSC\" \"C2040\"\n\t(at 0 0 0)\n)", 0)

	f.Fuzz(func(t *testing.T, text string, open int) {
		// The scanner should not panic on any input
		end, err := FindMatchingClose(text, open)

		// If scanning succeeds, validate basic invariants
		if err == nil {
			if end <= open {
				t.Errorf("end %d not past opening offset %d", end, open)
			}
			if end > len(text) {
				t.Errorf("end %d past document length %d", end, len(text))
			}
			if text[end-1] != ')' {
				t.Errorf("region does not end at a close delimiter: %q", text[end-1])
			}

			// Scanning is deterministic
			again, err2 := FindMatchingClose(text, open)
			if err2 != nil || again != end {
				t.Errorf("rescan = (%d, %v), want (%d, nil)", again, err2, end)
			}
		}
	})
}

// FuzzStartOfRecord tests the backward record-start scan with fuzzing
func FuzzStartOfRecord(f *testing.F) {
	f.Add(`(property "LCSC" "C2040")`, 1)
	f.Add(`(outer (inner) prop)`, 15)
	f.Add(`no parens`, 4)
	f.Add(``, 0)

	f.Fuzz(func(t *testing.T, text string, offset int) {
		// The scan should not panic on any input
		start, err := StartOfRecord(text, offset)

		if err == nil {
			if start < 0 || start >= offset {
				t.Errorf("start %d outside [0, %d)", start, offset)
			}
			if text[start] != '(' {
				t.Errorf("start does not address an opening delimiter: %q", text[start])
			}
			// Everything between the opener and offset closes nothing it opened
			between := text[start+1 : offset]
			if strings.Count(between, ")") > strings.Count(between, "(") {
				t.Errorf("unmatched close delimiters between start and offset: %q", between)
			}
		}
	})
}
