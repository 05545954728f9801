package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fivecolleges/compassprobe/client/httpclient"
	"github.com/fivecolleges/compassprobe/client/probe"
	"github.com/fivecolleges/compassprobe/warmup"
)

type WarmupCmd struct {
	URL string `arg:"" name:"url" help:"URL to poll"`

	Tolerance float64       `default:"0.1" help:"Allowed relative change between consecutive response times"`
	MaxPolls  int           `default:"20" name:"max-polls" help:"Give up after this many requests"`
	Timeout   time.Duration `default:"60s" help:"Timeout for each request"`
	Interval  time.Duration `default:"2s" help:"Initial wait between requests"`
}

func (cmd *WarmupCmd) Run(ctx context.Context) error {
	p := probe.New(httpclient.New(httpclient.Options{Timeout: cmd.Timeout}), cmd.Timeout)

	measure := func(ctx context.Context) (float64, error) {
		r, err := p.Probe(ctx, cmd.URL)
		if err != nil {
			return 0, err
		}
		return r.Elapsed.Seconds(), nil
	}

	res, err := warmup.Poll(ctx, measure, warmup.Options{
		Tolerance:       cmd.Tolerance,
		MaxPolls:        cmd.MaxPolls,
		InitialInterval: cmd.Interval,
	})
	for i, v := range res.Values {
		fmt.Printf("%3d %.3fs\n", i+1, v)
	}
	return err
}
