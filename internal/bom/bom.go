// Package bom verifies bills of materials against catalog data and writes
// enriched copies.
package bom

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/fabworks/kicad-lcsc/core/catalog"
	"github.com/fabworks/kicad-lcsc/core/errors"
	"github.com/fabworks/kicad-lcsc/internal/logging"
)

// Column aliases, compared after trimming and uppercasing.
var (
	lcscAliases = []string{"LCSC", "LCSC PART #", "LCSC PART#"}
	mpnAliases  = []string{"MPN", "MANUFACTURER_PART_NUMBER"}
	mfrAliases  = []string{"MANUFACTURER"}
	desAliases  = []string{"DESIGNATOR"}
	valAliases  = []string{"VALUE"}
)

// Row is one BOM line in the shape shared by the CSV and netlist readers.
type Row struct {
	Designator   string
	Value        string
	Code         string // LCSC code cell, cleaned but not validated
	MPN          string
	Manufacturer string
}

// Table holds parsed rows plus the raw records needed to re-emit the file.
type Table struct {
	Header  []string
	Records [][]string
	Rows    []Row
}

// ReadCSV parses a BOM CSV. The header must contain an LCSC column; the
// remaining columns are optional. A leading UTF-8 byte order mark is
// tolerated.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, errors.NewParse("CSV", "", err.Error())
	}
	if len(records) == 0 {
		return nil, errors.NewParse("CSV", "", "empty file")
	}

	header := records[0]
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	lcscCol := findColumn(header, lcscAliases)
	if lcscCol < 0 {
		return nil, errors.NewParse("CSV", "", "no LCSC column found")
	}
	mpnCol := findColumn(header, mpnAliases)
	mfrCol := findColumn(header, mfrAliases)
	desCol := findColumn(header, desAliases)
	valCol := findColumn(header, valAliases)

	t := &Table{Header: header}
	for _, rec := range records[1:] {
		// Short records happen in hand-edited files; pad to the header width.
		for len(rec) < len(header) {
			rec = append(rec, "")
		}
		t.Records = append(t.Records, rec)
		t.Rows = append(t.Rows, Row{
			Designator:   cell(rec, desCol),
			Value:        cell(rec, valCol),
			Code:         cell(rec, lcscCol),
			MPN:          cell(rec, mpnCol),
			Manufacturer: cell(rec, mfrCol),
		})
	}
	return t, nil
}

// Codes returns the unique valid part codes in the table, sorted.
func (t *Table) Codes() []string {
	seen := make(map[string]bool)
	var codes []string
	for _, row := range t.Rows {
		if catalog.ValidCode(row.Code) && !seen[row.Code] {
			seen[row.Code] = true
			codes = append(codes, row.Code)
		}
	}
	slices.Sort(codes)
	return codes
}

// IsCodeField reports whether a column or field name carries the LCSC code.
func IsCodeField(name string) bool { return matchesAlias(name, lcscAliases) }

// IsMPNField reports whether a column or field name carries the MPN.
func IsMPNField(name string) bool { return matchesAlias(name, mpnAliases) }

// IsManufacturerField reports whether a column or field name carries the
// manufacturer.
func IsManufacturerField(name string) bool { return matchesAlias(name, mfrAliases) }

// Clean trims whitespace and any literal surrounding quotes from a cell.
func Clean(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}

func matchesAlias(name string, aliases []string) bool {
	norm := strings.ToUpper(strings.TrimSpace(name))
	for _, alias := range aliases {
		if norm == alias {
			return true
		}
	}
	return false
}

func findColumn(header []string, aliases []string) int {
	for i, col := range header {
		if matchesAlias(col, aliases) {
			return i
		}
	}
	return -1
}

func cell(rec []string, col int) string {
	if col < 0 || col >= len(rec) {
		return ""
	}
	return Clean(rec[col])
}

// Status classifies one verified row.
type Status string

const (
	StatusOK          Status = "OK"
	StatusMismatch    Status = "MISMATCH"
	StatusNoMPN       Status = "NO MPN"
	StatusMissingLCSC Status = "MISSING LCSC"
	StatusFetchFailed Status = "FETCH FAILED"
)

// Icon returns the single-character marker for fetched statuses. Rows that
// never reached the catalog have no icon.
func (s Status) Icon() string {
	switch s {
	case StatusOK:
		return "+"
	case StatusMismatch:
		return "!"
	case StatusNoMPN:
		return "?"
	}
	return ""
}

// Result is the verification outcome for one row.
type Result struct {
	Row    Row
	Status Status
	Part   catalog.Part // zero value unless the code was fetched
	Note   string
}

// Report aggregates verification results.
type Report struct {
	Results     []Result
	Parts       map[string]catalog.Part
	OK          int
	NoMPN       int
	Mismatched  int
	MissingLCSC int
	FetchFailed int
}

// Clean reports whether no mismatches were found.
func (r *Report) Clean() bool {
	return r.Mismatched == 0
}

// Lookup resolves one part code to catalog data.
type Lookup interface {
	Resolve(ctx context.Context, code string) (catalog.Part, error)
}

// FetchProgress observes one resolved code during verification.
type FetchProgress func(i, n int, code string, part catalog.Part, err error)

// Verify fetches every referenced part and classifies each row. Fetch
// failures degrade the affected rows to FETCH FAILED rather than aborting.
func Verify(ctx context.Context, t *Table, lookup Lookup, progress FetchProgress) (*Report, error) {
	codes := t.Codes()
	parts := make(map[string]catalog.Part)

	for i, code := range codes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		part, err := lookup.Resolve(ctx, code)
		if err != nil {
			logging.Warn("catalog fetch failed", "code", code, "error", err)
		} else {
			parts[code] = part
		}
		if progress != nil {
			progress(i+1, len(codes), code, part, err)
		}
	}

	report := &Report{Parts: parts}
	for _, row := range t.Rows {
		res := classify(row, parts)
		report.Results = append(report.Results, res)
		switch res.Status {
		case StatusOK:
			report.OK++
		case StatusMismatch:
			report.Mismatched++
		case StatusNoMPN:
			report.NoMPN++
		case StatusMissingLCSC:
			report.MissingLCSC++
		case StatusFetchFailed:
			report.FetchFailed++
		}
	}
	return report, nil
}

func classify(row Row, parts map[string]catalog.Part) Result {
	if !catalog.ValidCode(row.Code) {
		return Result{Row: row, Status: StatusMissingLCSC}
	}

	part, ok := parts[row.Code]
	if !ok {
		return Result{Row: row, Status: StatusFetchFailed}
	}

	switch {
	case row.MPN != "" && part.MPN != "" && !strings.EqualFold(row.MPN, part.MPN):
		return Result{
			Row:    row,
			Status: StatusMismatch,
			Part:   part,
			Note:   fmt.Sprintf("MPN: schematic=%s vs LCSC=%s", row.MPN, part.MPN),
		}
	case row.MPN == "" && part.MPN != "":
		return Result{
			Row:    row,
			Status: StatusNoMPN,
			Part:   part,
			Note:   fmt.Sprintf("LCSC has: %s / %s", part.Manufacturer, part.MPN),
		}
	default:
		return Result{Row: row, Status: StatusOK, Part: part}
	}
}

// WriteEnriched writes the table with LCSC_Manufacturer and LCSC_MPN columns
// appended, filled from the fetched parts.
func WriteEnriched(w io.Writer, t *Table, parts map[string]catalog.Part) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	header := append(slices.Clone(t.Header), "LCSC_Manufacturer", "LCSC_MPN")
	if err := cw.Write(header); err != nil {
		return errors.NewIO("write", "", err)
	}

	for i, rec := range t.Records {
		part := parts[t.Rows[i].Code]
		out := append(slices.Clone(rec), part.Manufacturer, part.MPN)
		if err := cw.Write(out); err != nil {
			return errors.NewIO("write", "", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.NewIO("write", "", err)
	}
	return nil
}
