package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.ntppool.org/common/logger"

	"github.com/fivecolleges/compassprobe/candidates"
	"github.com/fivecolleges/compassprobe/client/httpclient"
	"github.com/fivecolleges/compassprobe/client/metrics"
	"github.com/fivecolleges/compassprobe/client/probe"
	"github.com/fivecolleges/compassprobe/history"
	"github.com/fivecolleges/compassprobe/report"
	"github.com/fivecolleges/compassprobe/selector"
)

// SamplingFlags are shared by the commands that select from a pool and
// probe the selections.
type SamplingFlags struct {
	HistoryFile string        `default:"queryhistory.json" env:"PROBE_HISTORY_FILE" help:"File recording when each URL was last used"`
	HistoryTZ   string        `default:"UTC" name:"history-tz" env:"PROBE_HISTORY_TZ" help:"Time zone of history timestamps (UTC, Local or an IANA name)"`
	Multiple    int           `default:"1" help:"Number of samples to take"`
	MaxAge      time.Duration `default:"24h" name:"max-age" help:"Minimum time before the same URL is used again"`
	Timeout     time.Duration `default:"60s" help:"Timeout for each probe"`
	DryRun      bool          `name:"dry-run" help:"Select and print URLs without probing or updating the history file"`
	Lock        bool          `default:"true" negatable:"" help:"Lock the history file against concurrent runs"`
	KeepAlive   bool          `name:"keep-alive" help:"Reuse connections between probes"`
	MetricsFile string        `name:"metrics-file" help:"Write prometheus metrics to this file when done"`
}

type session struct {
	log      *slog.Logger
	store    *history.Store
	selector *selector.Selector
	prober   *probe.Prober
	metrics  *metrics.Metrics
	flags    SamplingFlags
	out      io.Writer
}

func openSession(ctx context.Context, flags SamplingFlags) (*session, error) {
	log := logger.FromContext(ctx)

	loc, err := history.ParseLocation(flags.HistoryTZ)
	if err != nil {
		return nil, fmt.Errorf("history time zone: %w", err)
	}

	opts := []history.Option{history.WithLocation(loc)}
	switch {
	case flags.DryRun:
		opts = append(opts, history.WithoutPersistence())
	case flags.Lock:
		opts = append(opts, history.WithLock())
	}

	store, err := history.Open(ctx, flags.HistoryFile, opts...)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	client := httpclient.New(httpclient.Options{
		Timeout:   flags.Timeout,
		KeepAlive: flags.KeepAlive,
	})

	return &session{
		log:   log,
		store: store,
		selector: selector.New(
			selector.WithLogger(log),
			selector.WithMetrics(m.Selector),
		),
		prober:  probe.New(client, flags.Timeout),
		metrics: m,
		flags:   flags,
		out:     os.Stdout,
	}, nil
}

func (s *session) Close() error {
	return s.store.Close()
}

// sample takes flags.Multiple samples from pool for env. urlFor builds
// both the history key and the probed URL. After every sample the
// reports are rewritten.
func (s *session) sample(ctx context.Context, pool candidates.Pool, env string, urlFor selector.KeyBuilder, rep *report.Report, out reportFiles) error {
	for i := 0; i < s.flags.Multiple; i++ {
		sel, err := s.selector.SelectFresh(ctx, pool, s.store, urlFor, s.flags.MaxAge)
		if err != nil {
			return err
		}

		if s.flags.DryRun {
			fmt.Fprintln(s.out, sel.Key)
			continue
		}

		rep.Add(s.probe(ctx, env, sel.Key, sel.Key))

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := out.write(rep); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}
	return nil
}

// probe runs one probe; failures are logged and returned as failed
// samples.
func (s *session) probe(ctx context.Context, env, key, url string) report.Sample {
	start := time.Now()
	res, err := s.prober.Probe(ctx, url)
	if err != nil {
		s.log.WarnContext(ctx, "probe failed", "env", env, "url", url, "err", err)
	}

	var elapsed time.Duration
	var bytes int64
	if res != nil {
		elapsed = res.Elapsed
		bytes = res.Bytes
	}
	s.metrics.ObserveProbe(env, elapsed, bytes, err)

	return report.NewSample(env, key, url, start, res, err)
}

// finish logs the summary and writes the metrics file.
func (s *session) finish(ctx context.Context, env string, rep *report.Report) error {
	if s.flags.DryRun {
		return nil
	}
	sum := rep.Summary()
	s.log.InfoContext(ctx, "run complete",
		"run_id", rep.RunID.String(),
		"env", env,
		"samples", sum.Count,
		"failures", sum.Failures,
		"mean_response_time", sum.MeanResponseTime,
		"mean_elapsed", sum.MeanElapsed,
		"mean_mb_per_second", sum.MeanMBPerSecond,
	)

	s.metrics.Finish(env, time.Now())
	if s.flags.MetricsFile != "" {
		if err := s.metrics.WriteTextfile(s.flags.MetricsFile); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	return nil
}

// reportFiles are the report outputs rewritten after every sample.
type reportFiles struct {
	CSV         string
	Comparisons string
	JSON        string
}

func (f reportFiles) write(rep *report.Report) error {
	if f.CSV != "" {
		if err := rep.WriteSamplesCSV(f.CSV); err != nil {
			return err
		}
	}
	if f.Comparisons != "" {
		if err := rep.WriteCSV(f.Comparisons); err != nil {
			return err
		}
	}
	if f.JSON != "" {
		if err := rep.WriteJSON(f.JSON); err != nil {
			return err
		}
	}
	return nil
}
