// Command kicad-lcsc enriches KiCad schematics with LCSC catalog metadata
// and verifies exported BOMs against the same catalog.
package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"github.com/fabworks/kicad-lcsc/core/catalog"
	"github.com/fabworks/kicad-lcsc/core/errors"
	"github.com/fabworks/kicad-lcsc/internal/bom"
	"github.com/fabworks/kicad-lcsc/internal/config"
	"github.com/fabworks/kicad-lcsc/internal/enrich"
	"github.com/fabworks/kicad-lcsc/internal/lcsc"
	"github.com/fabworks/kicad-lcsc/internal/logging"
	"github.com/fabworks/kicad-lcsc/internal/netlist"
	"github.com/fabworks/kicad-lcsc/internal/partdb"
	"github.com/fabworks/kicad-lcsc/internal/progress"
	"github.com/fabworks/kicad-lcsc/internal/sqlite"
	"github.com/fabworks/kicad-lcsc/internal/version"
)

// CLI defines the command-line interface for kicad-lcsc.
var CLI struct {
	// Global flags. Durations default to -1ns so an explicit zero on the
	// command line is distinguishable from "not set".
	Config    string        `help:"Config file path (default: .kicad-lcsc.conf in the working directory)" type:"path" env:"KICAD_LCSC_CONFIG"`
	Cache     string        `help:"Part cache database path" type:"path" env:"KICAD_LCSC_CACHE"`
	Offline   bool          `help:"Resolve parts from the cache only, never from the network" env:"KICAD_LCSC_OFFLINE"`
	BaseURL   string        `name:"base-url" help:"Catalog API base URL" env:"KICAD_LCSC_BASE_URL"`
	Delay     time.Duration `help:"Minimum interval between catalog requests (0 disables pacing)" default:"-1ns" env:"KICAD_LCSC_DELAY"`
	Timeout   time.Duration `help:"Catalog request timeout" default:"-1ns" env:"KICAD_LCSC_TIMEOUT"`
	MaxAge    time.Duration `name:"max-age" help:"Cached part freshness window (0 keeps entries forever)" default:"-1ns" env:"KICAD_LCSC_MAX_AGE"`
	Listen    string        `help:"Serve live progress events on this address (WebSocket at /ws)" env:"KICAD_LCSC_LISTEN"`
	LogLevel  string        `name:"log-level" help:"Log level (debug, info, warn, error)" default:"warn" env:"KICAD_LCSC_LOG_LEVEL"`
	LogFormat string        `name:"log-format" help:"Log format (text, json)" default:"text" env:"KICAD_LCSC_LOG_FORMAT"`

	// Command groups (noun-first organization)
	Schematic SchematicGroup `cmd:"" help:"Schematic operations (enrich, scan)"`
	Bom       BomGroup       `cmd:"" help:"BOM operations (verify)"`
	Parts     PartsGroup     `cmd:"" help:"Catalog part operations (lookup)"`
	CacheCmd  CacheGroup     `cmd:"" name:"cache" help:"Part cache maintenance (info, prune, clear)"`
	Version   VersionCmd     `cmd:"" help:"Print version information"`
}

// SchematicGroup contains schematic file operations.
type SchematicGroup struct {
	Enrich EnrichCmd `cmd:"" help:"Add catalog fields next to each LCSC property"`
	Scan   ScanCmd   `cmd:"" help:"List LCSC properties and their enrichment state"`
}

// BomGroup contains BOM verification operations.
type BomGroup struct {
	Verify BomVerifyCmd `cmd:"" help:"Check BOM part numbers against the catalog"`
}

// PartsGroup contains direct catalog operations.
type PartsGroup struct {
	Lookup PartsLookupCmd `cmd:"" help:"Look up part codes in the catalog"`
}

// CacheGroup contains part cache maintenance operations.
type CacheGroup struct {
	Info  CacheInfoCmd  `cmd:"" help:"Show cache statistics"`
	Prune CachePruneCmd `cmd:"" help:"Delete cached parts older than a cutoff"`
	Clear CacheClearCmd `cmd:"" help:"Delete all cached parts"`
}

// settings layers the rc file and command-line flags over the defaults.
func settings() (config.Config, error) {
	cfg := config.Default()
	var err error
	if CLI.Config != "" {
		cfg, err = config.Load(CLI.Config, cfg)
	} else {
		cfg, err = config.LoadDefault(".", cfg)
	}
	if err != nil {
		return cfg, err
	}

	if CLI.BaseURL != "" {
		cfg.Catalog.BaseURL = CLI.BaseURL
	}
	if CLI.Delay >= 0 {
		cfg.Catalog.Delay = CLI.Delay
	}
	if CLI.Timeout > 0 {
		cfg.Catalog.Timeout = CLI.Timeout
	}
	if CLI.Cache != "" {
		cfg.Cache.Path = CLI.Cache
	}
	if CLI.MaxAge >= 0 {
		cfg.Cache.MaxAge = CLI.MaxAge
	}
	return cfg, nil
}

// cachePath resolves the configured cache location.
func cachePath(cfg config.Config) (string, error) {
	if cfg.Cache.Path != "" {
		return cfg.Cache.Path, nil
	}
	return partdb.DefaultPath()
}

// openCache opens the part cache for enrichment and verification commands.
// These commands work without a cache, just slower, so failures degrade to
// a nil handle instead of aborting the run.
func openCache(cfg config.Config) *partdb.DB {
	path, err := cachePath(cfg)
	if err != nil {
		logging.Warn("part cache disabled", "error", err)
		return nil
	}
	db, err := partdb.Open(path)
	if err != nil {
		logging.Warn("part cache disabled", "path", path, "error", err)
		return nil
	}
	return db
}

// requireCache opens the part cache for maintenance commands, where a
// missing cache is an error rather than a degraded mode.
func requireCache(cfg config.Config) (*partdb.DB, error) {
	path, err := cachePath(cfg)
	if err != nil {
		return nil, err
	}
	return partdb.Open(path)
}

// newResolver builds the cache-then-catalog resolver chain. With --offline
// the catalog client is omitted and cached entries never expire.
func newResolver(cfg config.Config, db *partdb.DB) *enrich.Resolver {
	if CLI.Offline {
		return enrich.NewResolver(db, nil, cfg.Cache.MaxAge)
	}
	client := lcsc.NewClient(lcsc.Options{
		BaseURL:   cfg.Catalog.BaseURL,
		Timeout:   cfg.Catalog.Timeout,
		Delay:     cfg.Catalog.Delay,
		UserAgent: cfg.Catalog.UserAgent,
	})
	return enrich.NewResolver(db, client, cfg.Cache.MaxAge)
}

// startHub serves progress events while a run is in flight when --listen is
// set. The returned stop function shuts the listener down.
func startHub() (*progress.Hub, func()) {
	if CLI.Listen == "" {
		return nil, func() {}
	}

	hub := progress.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := progress.NewServer(CLI.Listen, hub)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("progress listener failed", "addr", CLI.Listen, "error", err)
		}
	}()

	stop := func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
		cancel()
	}
	return hub, stop
}

// EnrichCmd adds catalog metadata properties to a schematic in place.
type EnrichCmd struct {
	Path           string `arg:"" help:"Schematic file (.kicad_sch)" type:"existingfile"`
	DryRun         bool   `name:"dry-run" help:"Report what would change without writing"`
	NoBackup       bool   `name:"no-backup" help:"Skip the .bak copy before rewriting"`
	CompressBackup bool   `name:"compress-backup" help:"Write the backup as .bak.xz"`
	SkipPartial    bool   `name:"skip-partial" help:"Leave symbols alone when one derived field already exists"`
}

func (c *EnrichCmd) Run() error {
	cfg, err := settings()
	if err != nil {
		return err
	}
	if c.SkipPartial {
		cfg.Patch.SkipPartial = true
	}

	db := openCache(cfg)
	if db != nil {
		defer db.Close()
	}
	hub, stop := startHub()
	defer stop()

	pipeline := &enrich.Pipeline{
		Resolver: newResolver(cfg, db),
		DB:       db,
		Hub:      hub,
	}
	opts := enrich.Options{
		Dialect:        cfg.Dialect(),
		MapFields:      cfg.FieldValues,
		DryRun:         c.DryRun,
		NoBackup:       c.NoBackup,
		CompressBackup: c.CompressBackup,
		OnScan: func(codes, actionable []string) {
			fmt.Printf("Found %d unique LCSC codes in schematic\n", len(codes))
			if len(codes) == 0 {
				fmt.Println("Nothing to do.")
			}
		},
		OnFetch: func(i, n int, code string, part catalog.Part, err error) {
			fmt.Printf("[%d/%d] Fetching %s... ", i, n, code)
			if err != nil {
				fmt.Println("FAILED")
				return
			}
			fmt.Printf("%s / %s\n", part.Manufacturer, part.MPN)
		},
	}

	res, err := pipeline.Enrich(context.Background(), c.Path, opts)
	if err != nil {
		return err
	}
	if len(res.Codes) == 0 {
		return nil
	}

	fmt.Printf("\nFetched %d/%d parts successfully\n", len(res.Parts), len(res.Actionable))
	fmt.Printf("\nResults: %d properties added, %d already enriched\n",
		res.Report.Applied, res.Report.Skipped)
	if res.Report.Unresolved > 0 {
		fmt.Printf("Unresolved: %d sites without catalog data\n", res.Report.Unresolved)
	}
	if res.Report.Failed > 0 {
		fmt.Printf("Skipped: %d sites with unsupported values\n", res.Report.Failed)
	}

	switch {
	case res.Report.Applied == 0:
		fmt.Println("No changes needed.")
	case c.DryRun:
		fmt.Println("(Dry run, no changes written)")
	default:
		if res.BackupPath != "" {
			fmt.Printf("Backup saved to: %s\n", res.BackupPath)
		}
		fmt.Printf("Schematic updated: %s\n", c.Path)
		fmt.Println("Open in KiCad to verify, then commit the changes.")
	}
	return nil
}

// ScanCmd lists LCSC properties without touching the file or the catalog.
type ScanCmd struct {
	Path string `arg:"" help:"Schematic file (.kicad_sch)" type:"existingfile"`
}

func (c *ScanCmd) Run() error {
	cfg, err := settings()
	if err != nil {
		return err
	}

	sites, err := enrich.Scan(c.Path, cfg.Dialect())
	if err != nil {
		return err
	}
	if len(sites) == 0 {
		fmt.Println("No LCSC properties found.")
		return nil
	}

	enriched := 0
	for _, site := range sites {
		state := "pending"
		if site.Enriched {
			state = "enriched"
			enriched++
		}
		fmt.Printf("  %-12s  %-8s  offset %d\n", site.Value, state, site.Start)
	}
	fmt.Printf("\n%d LCSC properties: %d enriched, %d pending\n",
		len(sites), enriched, len(sites)-enriched)
	return nil
}

// BomVerifyCmd checks BOM rows against the catalog and optionally writes an
// enriched copy.
type BomVerifyCmd struct {
	Path   string `arg:"" help:"BOM file (.csv) or netlist (.xml, .net)" type:"existingfile"`
	Output string `short:"o" help:"Write an enriched BOM CSV to this path" type:"path"`
}

func (c *BomVerifyCmd) Run() error {
	cfg, err := settings()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(c.Path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.Path, err)
	}

	var table *bom.Table
	if netlist.Detect(c.Path, data) {
		table, err = netlist.Parse(bytes.NewReader(data))
	} else {
		table, err = bom.ReadCSV(bytes.NewReader(data))
	}
	if err != nil {
		return err
	}

	db := openCache(cfg)
	if db != nil {
		defer db.Close()
	}
	resolver := newResolver(cfg, db)

	fmt.Printf("Found %d unique LCSC parts to verify\n\n", len(table.Codes()))

	report, err := bom.Verify(context.Background(), table, resolver,
		func(i, n int, code string, part catalog.Part, err error) {
			fmt.Printf("[%d/%d] Fetching %s... ", i, n, code)
			if err != nil {
				fmt.Println("FAILED")
				return
			}
			fmt.Printf("%s / %s (%s)\n", part.Manufacturer, part.MPN, part.Package)
		})
	if err != nil {
		return err
	}

	printVerifyReport(report)

	if c.Output != "" {
		out, err := os.Create(c.Output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", c.Output, err)
		}
		if err := bom.WriteEnriched(out, table, report.Parts); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("failed to write %s: %w", c.Output, err)
		}
		fmt.Printf("\nEnriched BOM written to: %s\n", c.Output)
	}

	if !report.Clean() {
		return fmt.Errorf("%d MPN mismatches found", report.Mismatched)
	}
	return nil
}

func printVerifyReport(report *bom.Report) {
	sep := strings.Repeat("=", 80)
	fmt.Printf("\n%s\n", sep)
	fmt.Println("BOM VERIFICATION REPORT")
	fmt.Printf("%s\n\n", sep)

	for _, res := range report.Results {
		switch res.Status {
		case bom.StatusMissingLCSC:
			fmt.Printf("  MISSING LCSC  %-12s  %s\n", res.Row.Designator, res.Row.Value)
		case bom.StatusFetchFailed:
			fmt.Printf("  FETCH FAILED  %-12s  %s  [%s]\n", res.Row.Designator, res.Row.Value, res.Row.Code)
		default:
			line := fmt.Sprintf("  %s %-10s  %-12s  %-10s  %-20s  %s",
				res.Status.Icon(), res.Status, res.Row.Designator, res.Row.Code,
				res.Part.Manufacturer, res.Part.MPN)
			if res.Note != "" {
				line += "  -- " + res.Note
			}
			fmt.Println(line)
		}
	}

	fmt.Printf("\n%s\n", sep)
	fmt.Printf("SUMMARY: %d OK, %d missing MPN in schematic, %d mismatched, %d missing LCSC code\n",
		report.OK, report.NoMPN, report.Mismatched, report.MissingLCSC)
	fmt.Println(sep)
}

// PartsLookupCmd resolves part codes and prints the catalog details.
type PartsLookupCmd struct {
	Codes []string `arg:"" name:"code" help:"LCSC part codes (C followed by digits)"`
}

func (c *PartsLookupCmd) Run() error {
	cfg, err := settings()
	if err != nil {
		return err
	}

	db := openCache(cfg)
	if db != nil {
		defer db.Close()
	}
	resolver := newResolver(cfg, db)

	failed := 0
	for _, code := range c.Codes {
		part, err := resolver.Resolve(context.Background(), code)
		if err != nil {
			failed++
			if errors.Is(err, errors.ErrNotFound) {
				fmt.Printf("%s: not found in catalog\n", code)
			} else {
				fmt.Printf("%s: lookup failed: %v\n", code, err)
			}
			continue
		}
		fmt.Printf("%s: %s / %s (%s)\n", part.Code, part.Manufacturer, part.MPN, part.Package)
		if part.Description != "" {
			fmt.Printf("  %s\n", part.Description)
		}
		fmt.Printf("  Stock: %d\n", part.Stock)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d lookups failed", failed, len(c.Codes))
	}
	return nil
}

// CacheInfoCmd prints part cache statistics.
type CacheInfoCmd struct{}

func (c *CacheInfoCmd) Run() error {
	cfg, err := settings()
	if err != nil {
		return err
	}
	db, err := requireCache(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Info()
	if err != nil {
		return err
	}

	fmt.Println("Part Cache")
	fmt.Println("----------")
	fmt.Printf("  Path:         %s\n", stats.Path)
	fmt.Printf("  Parts:        %d\n", stats.Parts)
	fmt.Printf("  Runs:         %d\n", stats.Runs)
	if stats.Parts > 0 {
		fmt.Printf("  Oldest fetch: %s\n", stats.OldestFetch.Format(time.RFC3339))
		fmt.Printf("  Newest fetch: %s\n", stats.NewestFetch.Format(time.RFC3339))
	}
	fmt.Printf("  Size:         %d bytes\n", stats.SizeBytes)
	fmt.Printf("  Driver:       %s\n", stats.Driver)
	return nil
}

// CachePruneCmd deletes cached parts past the cutoff age.
type CachePruneCmd struct {
	OlderThan time.Duration `name:"older-than" help:"Delete parts fetched longer ago than this" default:"720h"`
}

func (c *CachePruneCmd) Run() error {
	cfg, err := settings()
	if err != nil {
		return err
	}
	db, err := requireCache(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.Prune(c.OlderThan)
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d parts older than %s\n", n, c.OlderThan)
	return nil
}

// CacheClearCmd deletes every cached part.
type CacheClearCmd struct{}

func (c *CacheClearCmd) Run() error {
	cfg, err := settings()
	if err != nil {
		return err
	}
	db, err := requireCache(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.Clear()
	if err != nil {
		return err
	}
	fmt.Printf("Cleared %d cached parts\n", n)
	return nil
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("kicad-lcsc version %s\n", version.Version)
	info := sqlite.GetInfo()
	fmt.Printf("  SQLite driver: %s (%s)\n", info.DriverName, info.Package)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("kicad-lcsc"),
		kong.Description("KiCad schematic enrichment from the LCSC parts catalog"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	logging.InitLogger(logging.ParseLevel(CLI.LogLevel), logging.ParseFormat(CLI.LogFormat))
	err := ctx.Run(ctx)
	ctx.FatalIfErrorf(err)
}
