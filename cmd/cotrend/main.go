// Command cotrend removes shared systematic trends from a field of light
// curves using cotrending basis vectors.
//
//	cotrend -config run.toml                 run (or resume) every phase
//	cotrend -config run.toml -stop-after fit stop after the fit checkpoint
//	cotrend -config run.toml -show-star X    dump one stored MAP diagnostic
//	cotrend -config run.toml migrate status  manage the database schema
//	cotrend -config run.toml config          print the effective config as TOML
//	cotrend -config run.toml list            list stored checkpoints
//	cotrend -config run.toml reset           drop the run key's checkpoint and records
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/banshee-data/cotrend/internal/config"
	"github.com/banshee-data/cotrend/internal/cotrend"
	cotrendsqlite "github.com/banshee-data/cotrend/internal/cotrend/storage/sqlite"
	"github.com/banshee-data/cotrend/internal/db"
	"github.com/banshee-data/cotrend/internal/photometry"
	"github.com/banshee-data/cotrend/internal/timeutil"
	"github.com/banshee-data/cotrend/internal/version"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON or TOML cotrend config (defaults apply when empty)")
	stopAfter   = flag.String("stop-after", "", "Stop after this phase: normalized, basis, fit or cotrend")
	showStar    = flag.String("show-star", "", "Print the stored MAP diagnostic for this star ID and exit")
	runKey      = flag.String("run-key", "", "Override the configured run key")
	poolSize    = flag.Int("pool-size", 0, "Override the configured worker pool size (0 keeps the config value)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// options carries the parsed command line into run.
type options struct {
	ConfigPath string
	StopAfter  string
	ShowStar   string
	RunKey     string
	PoolSize   int
	Args       []string
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Printf("cotrend %s built %s\n", version.String(), version.BuildTime)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := options{
		ConfigPath: *configPath,
		StopAfter:  *stopAfter,
		ShowStar:   *showStar,
		RunKey:     *runKey,
		PoolSize:   *poolSize,
		Args:       flag.Args(),
	}
	if err := run(ctx, opts, os.Stdout); err != nil {
		var cfgErr *cotrend.ConfigError
		if errors.As(err, &cfgErr) {
			log.Fatalf("configuration error in phase %s: %v", cfgErr.Phase, cfgErr.Err)
		}
		log.Fatalf("cotrend: %v", err)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	var command string
	if len(opts.Args) > 0 {
		command = opts.Args[0]
	}
	switch command {
	case "migrate":
		return db.RunMigrateCommand(out, opts.Args[1:], cfg.DataPath(cfg.GetDatabasePath()))
	case "config":
		return cfg.Resolved().EncodeTOML(out)
	case "", "list", "reset":
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	database, err := db.NewDB(cfg.DataPath(cfg.GetDatabasePath()))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	clock := timeutil.RealClock{}
	checkpoints := cotrendsqlite.NewCheckpointStore(database.DB, clock)
	diagnostics := cotrendsqlite.NewDiagnosticStore(database.DB, clock)

	switch command {
	case "list":
		return listCheckpoints(ctx, checkpoints, out)
	case "reset":
		return resetRun(ctx, cfg.GetRunKey(), checkpoints, diagnostics, out)
	}

	if opts.ShowStar != "" {
		return showDiagnostic(ctx, cfg, checkpoints, diagnostics, opts.ShowStar, out)
	}

	stop := cotrend.PhaseNone
	if opts.StopAfter != "" {
		if stop, err = cotrend.ParsePhase(opts.StopAfter); err != nil {
			return err
		}
	}

	in, err := photometry.NewLoader(cfg.GetRoot()).Load(photometry.FilesFromConfig(cfg))
	if err != nil {
		return fmt.Errorf("load photometry: %w", err)
	}

	settings := cotrend.SettingsFromConfig(cfg)
	log.Printf("[Cotrend] %s, run key %q, settings: %s", version.String(), cfg.GetRunKey(), settings)

	p := cotrend.NewPipeline(settings, checkpoints, diagnostics)
	p.Clock = clock
	p.StopAfter = stop
	state, err := p.Run(ctx, cfg.GetRunKey(), in)
	if err != nil {
		return err
	}

	printSummary(out, state)
	if state.Phase() < cotrend.PhaseCotrend {
		return nil
	}
	if state.Cotrend.Mode == cotrend.ModeMAP && settings.StoreMAPDiagnostics {
		if err := printPriorWeights(ctx, out, diagnostics, state.RunID); err != nil {
			return err
		}
	}
	paths, err := photometry.NewWriter(cfg.DataPath(cfg.GetOutputDir())).WriteResults(state)
	if err != nil {
		return err
	}
	for _, path := range paths {
		fmt.Fprintf(out, "wrote %s\n", path)
	}
	return nil
}

func loadConfig(opts options) (*config.CotrendConfig, error) {
	cfg := config.EmptyCotrendConfig()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.LoadCotrendConfig(opts.ConfigPath); err != nil {
			return nil, err
		}
	}
	if opts.RunKey != "" {
		cfg.RunKey = &opts.RunKey
	}
	if opts.PoolSize > 0 {
		cfg.PoolSize = &opts.PoolSize
	}
	return cfg, cfg.Validate()
}

func printSummary(out io.Writer, state *cotrend.RunState) {
	fmt.Fprintf(out, "run %s (key %q) at phase %s\n", state.RunID, state.Key, state.Phase())
	if pop := state.Normalized; pop != nil {
		reasons := map[cotrend.ExclusionReason]int{}
		for _, r := range pop.Excluded {
			if r != cotrend.ExcludedNone {
				reasons[r]++
			}
		}
		fmt.Fprintf(out, "stars: %d valid of %d, %d skipped without catalog entry\n", pop.NValid(), pop.NStars(), pop.Skipped)
		keys := make([]string, 0, len(reasons))
		for r := range reasons {
			keys = append(keys, string(r))
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  excluded %s: %d\n", k, reasons[cotrend.ExclusionReason(k)])
		}
	}
	if b := state.Basis; b != nil {
		fmt.Fprintf(out, "CBVs: %d from %d quiet stars\n", b.NCBVs, len(b.QuietStars))
		for k := range b.Vectors {
			fmt.Fprintf(out, "  cbv %d: snr %.1f\n", k, b.SNR[k])
		}
	}
	if r := state.Cotrend; r != nil {
		fmt.Fprintf(out, "mode %s, %d stars fell back to LS\n", r.Mode, len(r.Missing))
	}
}

// printPriorWeights reports the spread of the stored per-star mean prior
// weights of a MAP run.
func printPriorWeights(ctx context.Context, out io.Writer, diagnostics *cotrendsqlite.DiagnosticStore, runID string) error {
	weights, err := diagnostics.MeanPriorWeights(ctx, runID)
	if err != nil {
		return err
	}
	if len(weights) == 0 {
		return nil
	}
	vals := make([]float64, 0, len(weights))
	for _, w := range weights {
		vals = append(vals, w)
	}
	fmt.Fprintf(out, "prior weight: mean %.3f over %d stars (min %.3f, max %.3f)\n",
		stat.Mean(vals, nil), len(vals), floats.Min(vals), floats.Max(vals))
	return nil
}

func listCheckpoints(ctx context.Context, checkpoints *cotrendsqlite.CheckpointStore, out io.Writer) error {
	infos, err := checkpoints.List(ctx)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintln(out, "no checkpoints")
		return nil
	}
	for _, info := range infos {
		fmt.Fprintf(out, "%-20s %-9s run %s  %s  %d bytes  (%s)\n",
			info.RunKey, info.Phase, info.RunID, info.UpdatedAt.UTC().Format("2006-01-02 15:04:05"), info.BlobBytes, info.Version)
	}
	return nil
}

// resetRun removes the checkpoint under key and every diagnostic record of
// its run, so the next invocation starts from the normalized phase.
func resetRun(ctx context.Context, key string, checkpoints *cotrendsqlite.CheckpointStore,
	diagnostics *cotrendsqlite.DiagnosticStore, out io.Writer) error {
	runID, ok, err := checkpoints.RunID(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(out, "no checkpoint for run key %q\n", key)
		return nil
	}
	if err := diagnostics.DeleteRun(ctx, runID); err != nil {
		return fmt.Errorf("delete diagnostics: %w", err)
	}
	if err := checkpoints.DeleteCheckpoint(ctx, key); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	fmt.Fprintf(out, "reset run key %q (run %s)\n", key, runID)
	return nil
}

func showDiagnostic(ctx context.Context, cfg *config.CotrendConfig, checkpoints *cotrendsqlite.CheckpointStore,
	diagnostics *cotrendsqlite.DiagnosticStore, starID string, out io.Writer) error {
	runID, ok, err := checkpoints.RunID(ctx, cfg.GetRunKey())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no checkpoint for run key %q", cfg.GetRunKey())
	}
	d, err := diagnostics.LoadDiagnostic(ctx, runID, starID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "star %s (run %s, mode %s)\n", d.StarID, runID, d.Mode)
	fmt.Fprintf(out, "normalised variability %.3f, noise %.3g, noise goodness %.3f\n",
		d.NormalisedVariability, d.Noise, d.NoiseGoodness)
	for k := range d.CondPeak {
		fmt.Fprintf(out, "cbv %d: ls %.5g cond %.5g", k, d.LSCoefficient[k], d.CondPeak[k])
		if k < len(d.PriorWeight) {
			fmt.Fprintf(out, " prior %.5g weight %.3f (variability %.3f, goodness %.3f, prior available %v)",
				d.PriorPeak[k], d.PriorWeight[k], d.PriorVariabilityWeight[k], d.PriorGoodnessWeight[k], d.PriorAvailable[k])
		}
		fmt.Fprintf(out, " posterior %.5g\n", d.PosteriorPeak[k])
	}
	path, err := photometry.NewWriter(cfg.DataPath(cfg.GetOutputDir())).WriteDiagnostic(d)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s\n", path)
	return nil
}
