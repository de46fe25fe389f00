// Package catalog defines the part model shared by the LCSC client, the
// part cache, and the enrichment pipeline, together with the standard
// KiCad/LCSC patch dialect.
package catalog

import (
	"regexp"

	"github.com/fabworks/kicad-lcsc/core/patch"
)

// TargetKey is the schematic property name carrying an LCSC part code.
const TargetKey = "LCSC"

// Derived field names inserted next to a target record.
const (
	FieldManufacturer = "LCSC_Manufacturer"
	FieldMPN          = "LCSC_MPN"
)

// codePattern matches LCSC part codes, a C followed by digits.
const codePattern = `C[0-9]+`

var codeRegexp = regexp.MustCompile(`^` + codePattern + `$`)

// Part is one catalog entry.
type Part struct {
	Code         string `json:"code"`
	Manufacturer string `json:"manufacturer"`
	MPN          string `json:"mpn"`
	Package      string `json:"package"`
	Description  string `json:"description"`
	Stock        int    `json:"stock"`
}

// FieldValues maps the part onto the derived patch fields.
func (p Part) FieldValues() patch.FieldValues {
	return patch.FieldValues{
		FieldManufacturer: p.Manufacturer,
		FieldMPN:          p.MPN,
	}
}

// ValidCode reports whether code is a well-formed LCSC part code.
func ValidCode(code string) bool {
	return codeRegexp.MatchString(code)
}

// DefaultDialect returns the patch configuration for KiCad schematics
// carrying LCSC codes.
func DefaultDialect() *patch.Config {
	return &patch.Config{
		Keyword:      "property",
		Key:          TargetKey,
		ValuePattern: codePattern,
		Fields:       []string{FieldManufacturer, FieldMPN},
	}
}
