// Command sofa drives the feed pipeline: gathering beta releases,
// fetching Apple's security pages and side feeds, and building the
// published feed documents.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quay/zlog"
	"github.com/rs/zerolog"

	"github.com/macadmins/sofa"
	"github.com/macadmins/sofa/pipeline"
)

type subcmd func(context.Context, *pipeline.Pipeline, pipeline.Options) []pipeline.StageResult

func main() {
	var exit int
	defer func() {
		if exit != 0 {
			os.Exit(exit)
		}
	}()
	ctx, done := context.WithCancel(context.Background())
	defer done()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
		<-ch
		done()
	}()

	var opts pipeline.Options
	fs := flag.NewFlagSet("sofa", flag.ExitOnError)
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage of %s:\n", os.Args[0])
		fs.PrintDefaults()
		fmt.Fprintf(out, "\nSubcommands\n\n")
		for _, s := range [][2]string{
			{"gather", "scrape the beta-release feed"},
			{"fetch", "refresh every upstream source into the cache"},
			{"build", "extract, enrich, and emit the feed documents"},
			{"bulletin", "write the per-platform bulletin"},
			{"rss", "rewrite the RSS view"},
			{"cve", "refresh the CVE details resource from cached pages"},
			{"cache", "report cache statistics or remove cache entries"},
			{"all", "gather, fetch, build, and bulletin in order"},
		} {
			fmt.Fprintf(out, "%s\n\t%s\n", s[0], s[1])
		}
	}
	configPath := fs.String("config", "config/sofa.toml", "pipeline configuration file")
	debug := fs.Bool("debug", false, "debug logging")
	fs.BoolVar(&opts.SkipGather, "skip-gather", false, "skip the beta gather stage")
	fs.BoolVar(&opts.SkipFetch, "skip-fetch", false, "skip the fetch stage, build from cache")
	fs.BoolVar(&opts.DetectChanges, "detect-changes", false, "report whether any feed changed")
	fs.BoolVar(&opts.DetectCacheChanges, "detect-cache-changes", false, "revalidate index pages already seen this run")
	fs.BoolVar(&opts.FullCVE, "full-cve", false, "reprocess every cached detail page in the cve stage")
	fs.BoolVar(&opts.LegacyV1Only, "use-legacy-v1", false, "emit only the v1 feed documents")
	fs.BoolVar(&opts.CacheStats, "cache-stats", false, "report cache occupancy in the cache subcommand")
	fs.StringVar(&opts.CleanCache, "clean-cache", "", "remove the cache entry for `url`, or \"all\" for everything")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	l := zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) { w.Out = os.Stderr })).
		Level(level).
		With().Timestamp().Logger()
	zlog.Set(&l)

	var cmd subcmd
	switch n := fs.Arg(0); n {
	case "gather":
		cmd = runGather
	case "fetch":
		cmd = runFetch
	case "build":
		cmd = runBuild
	case "bulletin":
		cmd = runBulletin
	case "rss":
		cmd = runRSS
	case "cve":
		cmd = runCVE
	case "cache":
		cmd = runCache
	case "all":
		cmd = runAll
	case "":
		fs.Usage()
		os.Exit(99)
	default:
		fs.Usage()
		fmt.Fprintf(os.Stderr, "\nunknown subcommand %q\n", n)
		os.Exit(99)
	}

	cfg, err := pipeline.Load(ctx, *configPath)
	if err != nil {
		zlog.Error(ctx).Err(err).Msg("configuration error")
		exit = 1
		return
	}
	p, err := pipeline.New(ctx, cfg)
	if err != nil {
		if sofa.KindOf(err) == sofa.ErrConfig {
			exit = 1
		} else {
			exit = 2
		}
		zlog.Error(ctx).Err(err).Msg("pipeline setup failed")
		return
	}

	results := cmd(ctx, p, opts)
	printSummary(results)
	for _, r := range results {
		if r.Err != nil {
			exit = 2
		}
	}
}

// stage wraps one timed step into a StageResult row.
func stage(ctx context.Context, name string, fn func(context.Context) error) pipeline.StageResult {
	start := time.Now()
	err := fn(ctx)
	status := "ok"
	if err != nil {
		status = "failed"
	}
	return pipeline.StageResult{
		Stage:    name,
		Status:   status,
		Duration: time.Since(start),
		Err:      err,
	}
}

func runGather(ctx context.Context, p *pipeline.Pipeline, _ pipeline.Options) []pipeline.StageResult {
	return []pipeline.StageResult{stage(ctx, pipeline.StageGather, p.Gather)}
}

func runFetch(ctx context.Context, p *pipeline.Pipeline, opts pipeline.Options) []pipeline.StageResult {
	return []pipeline.StageResult{stage(ctx, pipeline.StageFetch, func(ctx context.Context) error {
		return p.Fetch(ctx, opts)
	})}
}

func runBuild(ctx context.Context, p *pipeline.Pipeline, opts pipeline.Options) []pipeline.StageResult {
	var results []pipeline.StageResult
	var records map[sofa.Platform][]*sofa.ReleaseRecord
	if !opts.SkipFetch {
		r := stage(ctx, pipeline.StageFetch, func(ctx context.Context) error {
			return p.Fetch(ctx, opts)
		})
		results = append(results, r)
		if r.Err != nil {
			return results
		}
	}
	r := stage(ctx, pipeline.StageProcess, func(ctx context.Context) error {
		var err error
		records, err = p.Process(ctx)
		return err
	})
	results = append(results, r)
	if r.Err != nil {
		return results
	}
	results = append(results, stage(ctx, pipeline.StageEmit, func(ctx context.Context) error {
		_, err := p.Emit(ctx, records, opts)
		return err
	}))
	return results
}

func runBulletin(ctx context.Context, p *pipeline.Pipeline, _ pipeline.Options) []pipeline.StageResult {
	var records map[sofa.Platform][]*sofa.ReleaseRecord
	results := []pipeline.StageResult{stage(ctx, pipeline.StageProcess, func(ctx context.Context) error {
		var err error
		records, err = p.Process(ctx)
		return err
	})}
	if results[0].Err != nil {
		return results
	}
	return append(results, stage(ctx, pipeline.StageBulletin, func(ctx context.Context) error {
		return p.Bulletin(ctx, records)
	}))
}

func runRSS(ctx context.Context, p *pipeline.Pipeline, _ pipeline.Options) []pipeline.StageResult {
	var records map[sofa.Platform][]*sofa.ReleaseRecord
	results := []pipeline.StageResult{stage(ctx, pipeline.StageProcess, func(ctx context.Context) error {
		var err error
		records, err = p.Process(ctx)
		return err
	})}
	if results[0].Err != nil {
		return results
	}
	return append(results, stage(ctx, pipeline.StageRSS, func(ctx context.Context) error {
		return p.RSS(ctx, records)
	}))
}

func runCVE(ctx context.Context, p *pipeline.Pipeline, opts pipeline.Options) []pipeline.StageResult {
	return []pipeline.StageResult{stage(ctx, pipeline.StageCVE, func(ctx context.Context) error {
		return p.WriteCVEDetails(ctx, opts.FullCVE)
	})}
}

func runCache(ctx context.Context, p *pipeline.Pipeline, opts pipeline.Options) []pipeline.StageResult {
	return []pipeline.StageResult{stage(ctx, pipeline.StageCache, func(ctx context.Context) error {
		return p.CacheMaintenance(ctx, opts)
	})}
}

func runAll(ctx context.Context, p *pipeline.Pipeline, opts pipeline.Options) []pipeline.StageResult {
	return p.Run(ctx, opts)
}

// printSummary renders the fixed-width per-stage result table.
func printSummary(results []pipeline.StageResult) {
	if len(results) == 0 {
		return
	}
	fmt.Printf("%-10s %-8s %-12s %s\n", "STAGE", "STATUS", "DURATION", "ERROR")
	for _, r := range results {
		errMsg := ""
		if r.Err != nil {
			errMsg = r.Err.Error()
		}
		fmt.Printf("%-10s %-8s %-12s %s\n",
			r.Stage, r.Status, r.Duration.Round(time.Millisecond), errMsg)
	}
}
