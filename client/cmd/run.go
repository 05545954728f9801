package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fivecolleges/compassprobe/candidates"
	"github.com/fivecolleges/compassprobe/client/config"
	"github.com/fivecolleges/compassprobe/report"
	"github.com/fivecolleges/compassprobe/selector"
)

type RunCmd struct {
	PIDList string `arg:"" name:"pidlist" help:"PID list to draw from, standard Solr JSON output including the PID field"`
	Section string `arg:"" help:"Configuration section, e.g. PROD or STAGE"`

	SamplingFlags `embed:""`

	Endpoint   string `default:"object" enum:"object,download" help:"Probe the object page or the OBJ datastream download"`
	ReportFile string `name:"report-file" help:"CSV file to write samples to"`
	JSONReport string `name:"json-report" help:"JSON file to write samples and summary to"`
}

func urlBuilder(env *config.Environment, endpoint string) selector.KeyBuilder {
	if endpoint == "download" {
		return env.DownloadURL
	}
	return env.ObjectURL
}

func (cmd *RunCmd) Run(ctx context.Context, cli *ProbeCmd) error {
	env, err := cli.environment(cmd.Section)
	if err != nil {
		return err
	}

	pool, err := candidates.Load(cmd.PIDList)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, cmd.SamplingFlags)
	if err != nil {
		return err
	}
	defer s.Close()

	s.log.InfoContext(ctx, "starting run",
		"env", env.Name,
		"candidates", len(pool),
		"history", s.store.Len(),
		"multiple", cmd.Multiple,
		"max_age", cmd.MaxAge,
		"dry_run", cmd.DryRun,
	)

	rep, err := report.New(env.Name, time.Now())
	if err != nil {
		return err
	}

	out := reportFiles{CSV: cmd.ReportFile, JSON: cmd.JSONReport}
	if err := s.sample(ctx, pool, env.Name, urlBuilder(env, cmd.Endpoint), rep, out); err != nil {
		return err
	}

	return s.finish(ctx, env.Name, rep)
}

type FreshURLCmd struct {
	PIDList string `arg:"" name:"pidlist" help:"PID list to draw from"`
	Section string `arg:"" help:"Configuration section"`

	HistoryFile string        `default:"queryhistory.json" env:"PROBE_HISTORY_FILE" help:"File recording when each URL was last used"`
	HistoryTZ   string        `default:"UTC" name:"history-tz" env:"PROBE_HISTORY_TZ" help:"Time zone of history timestamps (UTC, Local or an IANA name)"`
	MaxAge      time.Duration `default:"24h" name:"max-age" help:"Minimum time before the same URL is used again"`
	Endpoint    string        `default:"object" enum:"object,download" help:"Object page or OBJ datastream download URL"`
	DryRun      bool          `name:"dry-run" help:"Don't update the history file"`
}

func (cmd *FreshURLCmd) Run(ctx context.Context, cli *ProbeCmd) error {
	env, err := cli.environment(cmd.Section)
	if err != nil {
		return err
	}
	pool, err := candidates.Load(cmd.PIDList)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, SamplingFlags{
		HistoryFile: cmd.HistoryFile,
		HistoryTZ:   cmd.HistoryTZ,
		MaxAge:      cmd.MaxAge,
		DryRun:      cmd.DryRun,
		Lock:        true,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	sel, err := s.selector.SelectFresh(ctx, pool, s.store, urlBuilder(env, cmd.Endpoint), cmd.MaxAge)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, sel.Key)
	return nil
}

type CompareCmd struct {
	PIDList string `arg:"" name:"pidlist" help:"PID list to draw from"`

	Stage string `default:"STAGE" help:"Configuration section of the first environment"`
	Prod  string `default:"PROD" help:"Configuration section of the reference environment"`

	SamplingFlags `embed:""`

	ReportFile string `name:"report-file" default:"output.csv" help:"CSV file to write comparisons to"`
	JSONReport string `name:"json-report" help:"JSON file to write samples and summary to"`
}

// Run probes the same object path on both environments. The history is
// keyed by the path so a pair counts as one use.
func (cmd *CompareCmd) Run(ctx context.Context, cli *ProbeCmd) error {
	stage, err := cli.environment(cmd.Stage)
	if err != nil {
		return err
	}
	prod, err := cli.environment(cmd.Prod)
	if err != nil {
		return err
	}

	pool, err := candidates.Load(cmd.PIDList)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, cmd.SamplingFlags)
	if err != nil {
		return err
	}
	defer s.Close()

	name := stage.Name + "-" + prod.Name
	rep, err := report.New(name, time.Now())
	if err != nil {
		return err
	}
	out := reportFiles{Comparisons: cmd.ReportFile, JSON: cmd.JSONReport}

	// both environments share the path layout of the reference one
	for i := 0; i < cmd.Multiple; i++ {
		sel, err := s.selector.SelectFresh(ctx, pool, s.store, prod.ObjectPath, cmd.MaxAge)
		if err != nil {
			return err
		}
		stageURL := stage.BaseURL() + sel.Key
		prodURL := prod.BaseURL() + sel.Key

		if cmd.DryRun {
			if cmd.Multiple > 1 {
				fmt.Fprintln(s.out, stageURL+","+prodURL)
			} else {
				fmt.Fprintln(s.out, stageURL)
				fmt.Fprintln(s.out, prodURL)
			}
			continue
		}

		c := report.Comparison{Time: time.Now(), Key: sel.Key}
		c.Stage = s.probe(ctx, stage.Name, sel.Key, stageURL)
		c.Prod = s.probe(ctx, prod.Name, sel.Key, prodURL)
		rep.AddComparison(c)

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := out.write(rep); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}

	return s.finish(ctx, name, rep)
}
