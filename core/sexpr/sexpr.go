// Package sexpr provides a minimal structural scanner for S-expression
// documents such as KiCad schematics. It tracks balanced delimiters and
// quoted strings without building a parse tree, so callers can locate byte
// regions of a document while leaving every byte outside them untouched.
package sexpr

import (
	"github.com/fabworks/kicad-lcsc/core/errors"
)

// FindMatchingClose returns the exclusive end offset of the balanced region
// whose opening delimiter sits at openOffset. Depth increases on '(' and
// decreases on ')'; delimiters inside a quoted string never affect depth.
// A quote preceded by an odd number of backslashes is escaped and does not
// toggle string state. Reaching end of input with the region still open, or
// while inside a string, returns a MalformedError carrying openOffset.
func FindMatchingClose(text string, openOffset int) (int, error) {
	if openOffset < 0 || openOffset >= len(text) {
		return 0, errors.NewValidation("openOffset", "outside document bounds")
	}
	if text[openOffset] != '(' {
		return 0, errors.NewValidation("openOffset", "does not address an opening delimiter")
	}

	depth := 0
	inString := false
	for i := openOffset; i < len(text); i++ {
		c := text[i]
		if inString {
			if c == '"' && !escaped(text, i) {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		}
	}

	if inString {
		return 0, errors.NewMalformed("", openOffset, "unterminated string in region")
	}
	return 0, errors.NewMalformed("", openOffset, "unbalanced delimiter")
}

// StartOfRecord returns the offset of the nearest opening delimiter before
// offset that is not closed again before offset, walking backward and
// cancelling '(' against ')' pairs seen on the way. The backward walk does
// not track quoted strings; the caller must start from an offset whose path
// back to the opener crosses no string content. A MalformedError is returned
// when no enclosing record exists.
func StartOfRecord(text string, offset int) (int, error) {
	if offset < 0 || offset > len(text) {
		return 0, errors.NewValidation("offset", "outside document bounds")
	}

	depth := 0
	for i := offset - 1; i >= 0; i-- {
		switch text[i] {
		case ')':
			depth++
		case '(':
			if depth == 0 {
				return i, nil
			}
			depth--
		}
	}
	return 0, errors.NewMalformed("", offset, "no enclosing record")
}

// escaped reports whether the byte at offset i is preceded by an odd number
// of backslashes.
func escaped(text string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && text[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}
