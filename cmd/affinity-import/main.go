package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/cognicore/affinity/internal/logging"
	"github.com/cognicore/affinity/internal/source"
	"github.com/cognicore/affinity/pkg/affinity"
	"github.com/cognicore/affinity/pkg/affinity/config"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "Path to YAML config (optional)")
		input   = flag.String("input", "", "JSONL engagement file (required)")
		typ     = flag.String("type", "", "Analysis type for untyped lines; when set, only this type is imported")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if *input == "" {
		log.Fatal().Msg("--input required")
	}

	records, err := source.LoadFromJSONL(*input)
	if err != nil {
		log.Fatal().Err(err).Msg("load engagement")
	}

	types := source.Types(records, *typ)
	if *typ != "" {
		types = []string{*typ}
	}
	if len(types) == 0 {
		log.Fatal().Msg("no analysis type: set --type or analysis_type on each line")
	}

	ctx := context.Background()
	eng, err := affinity.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("open store")
	}
	defer eng.Close()

	for _, t := range types {
		rows := source.Rows(records, t, *typ)
		if err := eng.Import(ctx, t, rows); err != nil {
			log.Fatal().Err(err).Str("analysis_type", t).Msg("import failed")
		}
		log.Info().Str("analysis_type", t).Int("rows", len(rows)).Msg("imported")
	}
}
