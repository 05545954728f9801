// Package cmd has the compass-probe command line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/alecthomas/kong"
	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/tracing"

	"github.com/fivecolleges/compassprobe/client/config"
	"github.com/fivecolleges/compassprobe/client/httpclient"
	"github.com/fivecolleges/compassprobe/version"
)

func init() {
	logger.ConfigPrefix = "PROBE"
}

// Description is the long help text for the root command.
var Description = heredoc.Doc(`
	Measure object page, download and search performance of the Compass
	repository.

	Objects are drawn at random from a PID list; an object is not probed
	again until --max-age has passed since it was last used. Use times are
	kept in the history file, written before every probe.
`)

// ProbeCmd is the root command.
type ProbeCmd struct {
	Config    string `default:"compass.toml" env:"PROBE_CONFIG" help:"Configuration file with environment sections"`
	Verbose   bool   `short:"v" env:"PROBE_VERBOSE" help:"Enable debug logging"`
	IPVersion string `default:"any" enum:"any,4,6" name:"ip-version" help:"Restrict probes to IPv4 or IPv6 (any, 4, 6)"`

	Run      RunCmd      `cmd:"" help:"Probe fresh objects from a PID list"`
	Compare  CompareCmd  `cmd:"" help:"Compare object page times between two environments"`
	FreshURL FreshURLCmd `cmd:"" name:"fresh-url" help:"Print a fresh object URL and mark it as used"`
	Download DownloadCmd `cmd:"" help:"Measure datastream download rates"`
	Search   SearchCmd   `cmd:"" help:"Measure Solr query times with random phrases"`
	Report   ReportCmd   `cmd:"" help:"Summarize saved search runs"`
	Warmup   WarmupCmd   `cmd:"" help:"Poll a URL until response times settle"`
	History  HistoryCmd  `cmd:"" help:"Inspect or prune a history file"`
	Version  version.Cmd `cmd:"" help:"Print version and exit"`

	tpShutdown tracing.TpShutdownFunc
}

func (cli *ProbeCmd) AfterApply(kctx *kong.Context, ctx context.Context) error {
	log := logger.Setup()
	if cli.Verbose {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	ctx = logger.NewContext(ctx, log)

	ipv, ok := httpclient.ParseIPVersion(cli.IPVersion)
	if !ok {
		return fmt.Errorf("invalid ip version %q", cli.IPVersion)
	}
	ctx = httpclient.NewIPVersionContext(ctx, ipv)

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		shutdown, err := InitTracing(ctx)
		if err != nil {
			log.WarnContext(ctx, "could not start tracing", "err", err)
		} else {
			cli.tpShutdown = shutdown
		}
	}

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.Bind(cli)
	return nil
}

// Close flushes traces; it is called after the command ran.
func (cli *ProbeCmd) Close(ctx context.Context) error {
	if cli.tpShutdown == nil {
		return nil
	}
	return cli.tpShutdown(ctx)
}

func (cli *ProbeCmd) environment(name string) (*config.Environment, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}
	return cfg.Environment(name)
}
