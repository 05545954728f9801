package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.ntppool.org/common/logger"

	"github.com/fivecolleges/compassprobe/client/httpclient"
	"github.com/fivecolleges/compassprobe/search"
)

type SearchCmd struct {
	Section string `arg:"" help:"Configuration section"`

	Unique    int           `default:"30" help:"Number of distinct random phrase queries"`
	Repeat    int           `default:"4" help:"Times each query is repeated"`
	Words     int           `default:"5" help:"Words per phrase"`
	Timeout   time.Duration `default:"60s" help:"Timeout for each query"`
	OutputDir string        `default:"output" name:"output-dir" help:"Directory for run reports"`
}

func (cmd *SearchCmd) Run(ctx context.Context, cli *ProbeCmd) error {
	log := logger.FromContext(ctx)

	env, err := cli.environment(cmd.Section)
	if err != nil {
		return err
	}

	client := search.NewClient(env.SolrSelectURL(), httpclient.New(httpclient.Options{Timeout: cmd.Timeout}))

	rr, err := search.Run(ctx, client, search.RunOptions{
		Environment: env.Name,
		Unique:      cmd.Unique,
		Repeat:      cmd.Repeat,
		Phrases:     search.NewPhraseGenerator(cmd.Words, nil),
	})
	if err != nil {
		return err
	}

	path := filepath.Join(cmd.OutputDir, rr.FileName())
	if err := rr.Write(path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	log.InfoContext(ctx, "saved search run", "path", path)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	return enc.Encode(rr.Summary)
}

type ReportCmd struct {
	Environment string `arg:"" help:"Environment to report on, e.g. PROD"`
	Output      string `arg:"" help:"File to write the report to, e.g. report.json"`

	Glob string `default:"output/solr*.json" help:"Saved search runs to read"`
}

func (cmd *ReportCmd) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)

	files, err := search.TrendFiles(cmd.Glob)
	if err != nil {
		return err
	}
	log.DebugContext(ctx, "search runs", "files", len(files))

	records, err := search.Trend(files, cmd.Environment)
	if err != nil {
		return err
	}

	if err := search.WriteTrend(cmd.Output, records); err != nil {
		return err
	}
	log.InfoContext(ctx, "wrote report", "path", cmd.Output, "runs", len(records))
	return nil
}
