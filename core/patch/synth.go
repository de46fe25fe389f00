package patch

import (
	"fmt"
	"strings"

	"github.com/fabworks/kicad-lcsc/core/errors"
)

// fieldTemplate is the synthesized sibling record. Each line carries the
// inferred indent plus one tab per nesting level; the block begins with a
// newline and ends at the closing delimiter with no trailing newline, so
// consecutive blocks concatenate into a single well-formed insertion.
const fieldTemplate = "\n" +
	"%[1]s(property \"%[2]s\" \"%[3]s\"\n" +
	"%[1]s\t(at 0 0 0)\n" +
	"%[1]s\t(effects\n" +
	"%[1]s\t\t(font\n" +
	"%[1]s\t\t\t(size 1.27 1.27)\n" +
	"%[1]s\t\t)\n" +
	"%[1]s\t\t(hide yes)\n" +
	"%[1]s\t)\n" +
	"%[1]s)"

// Synthesize renders one derived field as a hidden sibling record at the
// given indentation. The output is byte-for-byte deterministic for a given
// (field, value, indent) triple. Values that cannot sit inside a quoted
// string without corrupting later scans fail with an UnsupportedValue error.
func Synthesize(field, value, indent string) (string, error) {
	if reason := unsafeReason(field); reason != "" {
		return "", errors.NewValidation("field", reason)
	}
	if reason := unsafeReason(value); reason != "" {
		return "", errors.NewUnsupportedValue(field, value, reason)
	}
	return fmt.Sprintf(fieldTemplate, indent, field, value), nil
}

// unsafeReason reports why s cannot be embedded in a quoted string, or ""
// when it can. Backslashes are rejected rather than escaped because the
// scanner treats them as escape prefixes; a raw backslash before the closing
// quote would swallow it.
func unsafeReason(s string) string {
	switch {
	case strings.ContainsRune(s, '"'):
		return "contains a quote character"
	case strings.ContainsRune(s, '\\'):
		return "contains a backslash"
	case strings.ContainsAny(s, "\n\r"):
		return "contains a line break"
	}
	return ""
}

// synthesizeAll renders the configured derived fields in order as one
// insertion. Field names missing from values render as empty strings, the
// same as a catalog entry with a blank attribute.
func synthesizeAll(fields []string, values FieldValues, indent string) (string, error) {
	var b strings.Builder
	for _, field := range fields {
		block, err := Synthesize(field, values[field], indent)
		if err != nil {
			return "", err
		}
		b.WriteString(block)
	}
	return b.String(), nil
}
