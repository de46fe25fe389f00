package patch

import (
	"slices"
	"strings"
)

// FieldValues carries the resolved attribute values for one key, by derived
// field name.
type FieldValues map[string]string

// SiteError records a per-site failure that did not stop the rewrite.
type SiteError struct {
	Value string // key value at the site
	Start int    // record start offset in the input document
	Err   error
}

// Report summarizes one rewrite pass.
type Report struct {
	Applied    int // sites that received synthesized fields
	Skipped    int // sites already enriched
	Unresolved int // sites whose value has no lookup entry
	Failed     int // sites refused by the synthesizer
	Errors     []SiteError
}

// Changed reports whether the rewrite produced a document different from
// its input.
func (r Report) Changed() bool {
	return r.Applied > 0
}

// Total returns the number of sites examined.
func (r Report) Total() int {
	return r.Applied + r.Skipped + r.Unresolved + r.Failed
}

// Rewrite splices synthesized derived fields after every actionable target
// record and returns the new document text. Bytes outside the insertion
// points are copied through verbatim: the rewrite never deletes, reorders,
// or reformats existing content, and running it again over its own output
// changes nothing.
//
// lookup is the completed key-to-attributes mapping. A site whose value is
// absent from lookup is copied through and counted as unresolved; a value
// the synthesizer refuses is copied through and counted as failed, with the
// error recorded in the report. A structural scan failure aborts the whole
// rewrite with no output.
func Rewrite(text string, cfg *Config, lookup map[string]FieldValues) (string, Report, error) {
	var report Report

	sites, err := Sites(text, cfg)
	if err != nil {
		return "", Report{}, err
	}
	// Insertion points must ascend for the single-pass splice below. Sites
	// arrive in start order, which differs from end order only when target
	// records nest; both still get patched.
	slices.SortStableFunc(sites, func(a, b Site) int { return a.End - b.End })

	var out strings.Builder
	out.Grow(len(text) + len(sites)*insertionEstimate(cfg))
	cursor := 0
	for _, site := range sites {
		if AlreadyEnriched(text, site.End, cfg) {
			report.Skipped++
			continue
		}
		values, ok := lookup[site.Value]
		if !ok {
			report.Unresolved++
			continue
		}
		insertion, err := synthesizeAll(cfg.Fields, values, InferIndent(text, site.Start))
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, SiteError{Value: site.Value, Start: site.Start, Err: err})
			continue
		}
		out.WriteString(text[cursor:site.End])
		out.WriteString(insertion)
		cursor = site.End
		report.Applied++
	}
	out.WriteString(text[cursor:])

	return out.String(), report, nil
}

// insertionEstimate sizes the output buffer: template body plus room for
// field names, values and indentation.
func insertionEstimate(cfg *Config) int {
	return len(cfg.Fields) * (len(fieldTemplate) + 64)
}
