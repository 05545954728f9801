package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.ntppool.org/common/logger"

	"github.com/fivecolleges/compassprobe/persist"
)

const (
	DefaultUnique = 30
	DefaultRepeat = 4
)

// Check is one timed phrase query.
type Check struct {
	Time     time.Time `json:"datesStamp"`
	Phrase   string    `json:"phrase"`
	QTime    int       `json:"solrQTime"`
	RealTime float64   `json:"realTime"`
	NumFound int64     `json:"numFound"`
}

type Summary struct {
	Environment     string    `json:"environment"`
	Start           time.Time `json:"test start time"`
	End             time.Time `json:"test end time"`
	FirstTimeAvg    float64   `json:"first (unique) time avg"`
	LastTimeAvg     float64   `json:"last time avg"`
	NumFoundAverage float64   `json:"numFound ave"`
}

// RunReport holds the checks of a run, grouped by phrase, and the
// averages per repeat index.
type RunReport struct {
	Data             [][]Check `json:"data"`
	Summary          Summary   `json:"summary"`
	AveragesRealTime []float64 `json:"averagesRealTime"`
	AveragesQTime    []float64 `json:"averagesSolrQTime"`
}

type RunOptions struct {
	Environment string
	Unique      int
	Repeat      int
	Phrases     *PhraseGenerator
	Now         func() time.Time
}

// Run queries Solr with opts.Unique random phrases, each repeated
// opts.Repeat times. The first query of a phrase is uncached on the Solr
// side; later repeats show the cache effect.
func Run(ctx context.Context, c *Client, opts RunOptions) (*RunReport, error) {
	if opts.Unique <= 0 {
		opts.Unique = DefaultUnique
	}
	if opts.Repeat <= 0 {
		opts.Repeat = DefaultRepeat
	}
	if opts.Phrases == nil {
		opts.Phrases = NewPhraseGenerator(DefaultWords, nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	log := logger.FromContext(ctx)
	log.InfoContext(ctx, "querying solr", "unique", opts.Unique, "repeat", opts.Repeat)

	rr := &RunReport{
		Summary: Summary{
			Environment: opts.Environment,
			Start:       opts.Now(),
		},
	}

	for range opts.Unique {
		phrase := opts.Phrases.Phrase()
		params := url.Values{
			"q":       {phrase},
			"defType": {"dismax"},
		}

		checks := make([]Check, 0, opts.Repeat)
		for range opts.Repeat {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			t := opts.Now()
			r, elapsed, err := c.Select(ctx, params)
			if err != nil {
				return nil, fmt.Errorf("query %q: %w", phrase, err)
			}
			checks = append(checks, Check{
				Time:     t,
				Phrase:   phrase,
				QTime:    r.ResponseHeader.QTime,
				RealTime: elapsed.Seconds(),
				NumFound: r.Response.NumFound,
			})
		}
		rr.Data = append(rr.Data, checks)
	}

	rr.Summary.End = opts.Now()
	rr.summarize()

	return rr, nil
}

func (rr *RunReport) summarize() {
	if len(rr.Data) == 0 {
		return
	}
	repeat := len(rr.Data[0])
	rr.AveragesRealTime = make([]float64, repeat)
	rr.AveragesQTime = make([]float64, repeat)

	var numFound float64
	n := float64(len(rr.Data))

	for _, checks := range rr.Data {
		for i, c := range checks {
			rr.AveragesRealTime[i] += c.RealTime / n
			rr.AveragesQTime[i] += float64(c.QTime) / n
		}
		numFound += float64(checks[0].NumFound)
	}

	rr.Summary.FirstTimeAvg = rr.AveragesQTime[0]
	rr.Summary.LastTimeAvg = rr.AveragesQTime[repeat-1]
	rr.Summary.NumFoundAverage = numFound / n
}

// FileName is the report file name for a run; names sort by start time.
func (rr *RunReport) FileName() string {
	return fmt.Sprintf("solr-%s-%s.json", rr.Summary.Start.Format("20060102T150405"), rr.Summary.Environment)
}

func (rr *RunReport) Write(path string) error {
	b, err := json.MarshalIndent(rr, "", "    ")
	if err != nil {
		return err
	}
	return persist.ReplaceFile(path, append(b, '\n'), 0o644)
}
