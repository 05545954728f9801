package cmd

import (
	"context"
	"time"

	"github.com/fivecolleges/compassprobe/candidates"
	"github.com/fivecolleges/compassprobe/client/httpclient"
	"github.com/fivecolleges/compassprobe/report"
	"github.com/fivecolleges/compassprobe/search"
)

type DownloadCmd struct {
	Section string `arg:"" help:"Configuration section"`

	HistoryFile string        `default:"queryhistory.json" env:"PROBE_HISTORY_FILE" help:"File recording when each URL was last used"`
	HistoryTZ   string        `default:"UTC" name:"history-tz" env:"PROBE_HISTORY_TZ" help:"Time zone of history timestamps (UTC, Local or an IANA name)"`
	MaxAge      time.Duration `default:"720h" name:"max-age" help:"Minimum time before the same object is downloaded again"`
	Timeout     time.Duration `default:"10m" help:"Timeout for each download"`
	DryRun      bool          `name:"dry-run" help:"Select and print URLs without downloading or updating the history file"`
	Lock        bool          `default:"true" negatable:"" help:"Lock the history file against concurrent runs"`
	MetricsFile string        `name:"metrics-file" help:"Write prometheus metrics to this file when done"`

	Count       int           `default:"30" help:"Number of downloads"`
	MinSize     int64         `default:"10000000" name:"min-size" help:"Minimum datastream size in bytes"`
	Rows        int           `default:"1000" help:"Number of objects to list from Solr"`
	ListCache   string        `default:"largeobjectslist.json" name:"list-cache" help:"Cache file for the large object list"`
	CacheMaxAge time.Duration `default:"720h" name:"cache-max-age" help:"Maximum age of the large object list cache"`
	ReportFile  string        `name:"report-file" help:"CSV file to write samples to"`
	JSONReport  string        `name:"json-report" help:"JSON file to write samples and summary to"`
}

func (cmd *DownloadCmd) Run(ctx context.Context, cli *ProbeCmd) error {
	env, err := cli.environment(cmd.Section)
	if err != nil {
		return err
	}

	solr := search.NewClient(env.SolrSelectURL(), httpclient.New(httpclient.Options{Timeout: cmd.Timeout}))
	fetch := func(ctx context.Context) (candidates.Pool, error) {
		return solr.LargeObjects(ctx, cmd.Rows, cmd.MinSize)
	}

	pool, err := candidates.LoadCached(ctx, cmd.ListCache, cmd.CacheMaxAge, time.Now(), fetch)
	if err != nil {
		return err
	}

	flags := SamplingFlags{
		HistoryFile: cmd.HistoryFile,
		HistoryTZ:   cmd.HistoryTZ,
		Multiple:    cmd.Count,
		MaxAge:      cmd.MaxAge,
		Timeout:     cmd.Timeout,
		DryRun:      cmd.DryRun,
		Lock:        cmd.Lock,
		MetricsFile: cmd.MetricsFile,
	}
	s, err := openSession(ctx, flags)
	if err != nil {
		return err
	}
	defer s.Close()

	s.log.InfoContext(ctx, "downloading", "env", env.Name, "candidates", len(pool), "count", flags.Multiple)

	rep, err := report.New(env.Name, time.Now())
	if err != nil {
		return err
	}
	out := reportFiles{CSV: cmd.ReportFile, JSON: cmd.JSONReport}
	if err := s.sample(ctx, pool, env.Name, env.DownloadURL, rep, out); err != nil {
		return err
	}

	return s.finish(ctx, env.Name, rep)
}
