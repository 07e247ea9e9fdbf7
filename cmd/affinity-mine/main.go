package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/cognicore/affinity/internal/logging"
	"github.com/cognicore/affinity/internal/source"
	"github.com/cognicore/affinity/pkg/affinity"
	"github.com/cognicore/affinity/pkg/affinity/config"
	"github.com/cognicore/affinity/pkg/affinity/miner"
	"github.com/cognicore/affinity/pkg/affinity/store/memstore"
)

func main() {
	var (
		cfgPath   = flag.String("config", "", "Path to YAML config (optional)")
		input     = flag.String("input", "", "JSONL engagement file")
		fromStore = flag.Bool("from-store", false, "Mine engagement previously imported with affinity-import")
		typ       = flag.String("type", "", "Analysis type (required)")
		format    = flag.String("format", "json", "Summary output format: json or yaml")
		dryRun    = flag.Bool("dry-run", false, "Mine into an in-memory store; nothing is persisted")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if *typ == "" {
		log.Fatal().Msg("--type required")
	}
	if (*input == "") == !*fromStore {
		log.Fatal().Msg("exactly one of --input or --from-store required")
	}
	if *format != "json" && *format != "yaml" {
		log.Fatal().Str("format", *format).Msg("--format must be json or yaml")
	}
	if *dryRun && *fromStore {
		log.Fatal().Msg("--dry-run cannot be combined with --from-store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var eng *affinity.Engine
	if *dryRun {
		eng = affinity.New(affinity.Options{Store: memstore.New(), Mining: cfg.Analysis.Options()})
	} else {
		eng, err = affinity.Open(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("open store")
		}
	}
	defer eng.Close()

	var sum miner.Summary
	if *fromStore {
		sum, err = eng.MineStored(ctx, *typ)
	} else {
		records, lerr := source.LoadFromJSONL(*input)
		if lerr != nil {
			log.Fatal().Err(lerr).Msg("load engagement")
		}
		sum, err = eng.Mine(ctx, *typ, source.Rows(records, *typ, *typ))
	}
	if err != nil {
		log.Error().Err(err).Str("analysis_type", *typ).Msg("mining failed")
		eng.Close()
		os.Exit(1)
	}

	if err := writeSummary(os.Stdout, *format, sum); err != nil {
		log.Fatal().Err(err).Msg("write summary")
	}
}

func writeSummary(w io.Writer, format string, sum miner.Summary) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(sum)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}
