// Package enrich orchestrates schematic enrichment: locate target records,
// resolve their codes through the cache and the catalog, splice the derived
// fields, and write the result back safely.
package enrich

import (
	"context"
	"os"

	"github.com/google/uuid"

	"github.com/fabworks/kicad-lcsc/core/catalog"
	"github.com/fabworks/kicad-lcsc/core/errors"
	"github.com/fabworks/kicad-lcsc/core/patch"
	"github.com/fabworks/kicad-lcsc/internal/backup"
	"github.com/fabworks/kicad-lcsc/internal/fileutil"
	"github.com/fabworks/kicad-lcsc/internal/logging"
	"github.com/fabworks/kicad-lcsc/internal/partdb"
	"github.com/fabworks/kicad-lcsc/internal/progress"
)

// FieldMapper renders one part as the derived field values.
type FieldMapper func(catalog.Part) patch.FieldValues

// ScanFunc observes the located codes before resolution starts.
type ScanFunc func(codes, actionable []string)

// FetchFunc observes each catalog resolution during a run.
type FetchFunc func(i, n int, code string, part catalog.Part, err error)

// Pipeline wires the resolver, the run journal and the progress hub for
// schematic operations.
type Pipeline struct {
	Resolver *Resolver
	DB       *partdb.DB    // run journal, may be nil
	Hub      *progress.Hub // may be nil
}

// Options configures one enrichment run.
type Options struct {
	Dialect        *patch.Config
	MapFields      FieldMapper // nil means catalog.Part.FieldValues
	DryRun         bool
	NoBackup       bool
	CompressBackup bool
	OnScan         ScanFunc  // nil is fine
	OnFetch        FetchFunc // nil is fine
}

// Result is the outcome of one enrichment run.
type Result struct {
	RunID      string
	Path       string
	Report     patch.Report
	Codes      []string // unique target values, document order
	Actionable []string // subset that needed resolution
	Parts      map[string]catalog.Part
	BackupPath string // set when a backup was written
	Written    bool
	Input      backup.Digests
	Output     backup.Digests
}

// Enrich runs the full pipeline against the schematic at path.
func (p *Pipeline) Enrich(ctx context.Context, path string, opts Options) (*Result, error) {
	res, err := p.enrich(ctx, path, opts)
	if err != nil {
		p.Hub.Failure(err.Error())
	}
	return res, err
}

func (p *Pipeline) enrich(ctx context.Context, path string, opts Options) (*Result, error) {
	mapFields := opts.MapFields
	if mapFields == nil {
		mapFields = catalog.Part.FieldValues
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read", path, err)
	}
	text := string(data)

	sites, err := patch.Sites(text, opts.Dialect)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID: uuid.New().String(),
		Path:  path,
		Parts: make(map[string]catalog.Part),
		Input: backup.Sum(data),
	}
	ctx = logging.WithRunID(ctx, res.RunID)

	// Codes at gate-open sites are the only ones worth resolving; a code
	// seen solely at enriched sites never reaches the catalog.
	seen := make(map[string]bool)
	actionable := make(map[string]bool)
	for _, site := range sites {
		if !seen[site.Value] {
			seen[site.Value] = true
			res.Codes = append(res.Codes, site.Value)
		}
		if !patch.AlreadyEnriched(text, site.End, opts.Dialect) && !actionable[site.Value] {
			actionable[site.Value] = true
			res.Actionable = append(res.Actionable, site.Value)
		}
	}

	if opts.OnScan != nil {
		opts.OnScan(res.Codes, res.Actionable)
	}
	p.Hub.RunStarted(res.RunID, path, len(sites))

	for i, code := range res.Actionable {
		part, err := p.Resolver.Resolve(ctx, code)
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		if err != nil {
			logging.WarnContext(ctx, "failed to resolve part", "code", code, "error", err)
		} else {
			res.Parts[code] = part
		}
		p.Hub.Fetch(i+1, len(res.Actionable), code, err == nil)
		if opts.OnFetch != nil {
			opts.OnFetch(i+1, len(res.Actionable), code, part, err)
		}
	}

	lookup := make(map[string]patch.FieldValues, len(res.Parts))
	for code, part := range res.Parts {
		lookup[code] = mapFields(part)
	}

	out, report, err := patch.Rewrite(text, opts.Dialect, lookup)
	if err != nil {
		return nil, err
	}
	res.Report = report
	res.Output = backup.Sum([]byte(out))
	p.emitSiteEvents(text, sites, report, opts.Dialect, lookup)

	if report.Changed() && !opts.DryRun {
		if !opts.NoBackup {
			bak, err := backup.Create(path, backup.Options{Compress: opts.CompressBackup})
			if err != nil {
				return nil, err
			}
			res.BackupPath = bak
		}
		if err := fileutil.WriteFileAtomic(path, []byte(out), 0644); err != nil {
			return nil, err
		}
		res.Written = true
	}

	p.recordRun(ctx, res, opts.DryRun)
	logging.RunEvent(res.RunID, path, report.Applied, report.Skipped, report.Unresolved)
	p.Hub.Completed(res.RunID, path, progress.Counts{
		Applied:    report.Applied,
		Skipped:    report.Skipped,
		Unresolved: report.Unresolved,
	})
	return res, nil
}

// emitSiteEvents replays the rewrite decisions as per-site events. The gate
// and lookup checks mirror the rewrite's own, so the actions match what it
// counted.
func (p *Pipeline) emitSiteEvents(text string, sites []patch.Site, report patch.Report, cfg *patch.Config, lookup map[string]patch.FieldValues) {
	failed := make(map[int]bool, len(report.Errors))
	for _, se := range report.Errors {
		failed[se.Start] = true
	}

	for _, site := range sites {
		action := "applied"
		switch {
		case patch.AlreadyEnriched(text, site.End, cfg):
			action = "skipped"
		case failed[site.Start]:
			action = "failed"
		default:
			if _, ok := lookup[site.Value]; !ok {
				action = "unresolved"
			}
		}
		logging.PatchEvent(site.Value, action, site.Start)
		p.Hub.Site(site.Value, action, site.Start)
	}
}

func (p *Pipeline) recordRun(ctx context.Context, res *Result, dryRun bool) {
	if p.DB == nil {
		return
	}
	kind := "enrich"
	if dryRun {
		kind = "enrich-dry"
	}
	run := partdb.Run{
		ID:           res.RunID,
		Kind:         kind,
		Target:       res.Path,
		InputSHA256:  res.Input.SHA256,
		InputBLAKE3:  res.Input.BLAKE3,
		OutputSHA256: res.Output.SHA256,
		OutputBLAKE3: res.Output.BLAKE3,
		Applied:      res.Report.Applied,
		Skipped:      res.Report.Skipped,
		Unresolved:   res.Report.Unresolved,
		Failed:       res.Report.Failed,
	}
	if err := p.DB.RecordRun(run); err != nil {
		logging.WarnContext(ctx, "failed to record run", "run_id", res.RunID, "error", err)
	}
}

// SiteInfo describes one located record and its gate state.
type SiteInfo struct {
	patch.Site
	Enriched bool
}

// Scan lists the target records in the schematic at path without modifying
// anything.
func Scan(path string, cfg *patch.Config) ([]SiteInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read", path, err)
	}
	text := string(data)

	sites, err := patch.Sites(text, cfg)
	if err != nil {
		return nil, err
	}

	infos := make([]SiteInfo, 0, len(sites))
	for _, site := range sites {
		infos = append(infos, SiteInfo{
			Site:     site,
			Enriched: patch.AlreadyEnriched(text, site.End, cfg),
		})
	}
	return infos, nil
}
