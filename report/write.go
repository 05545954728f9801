package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"time"

	"github.com/fivecolleges/compassprobe/persist"
)

// timeStampLayout matches the history file timestamps.
const timeStampLayout = "2006-01-02 15:04:05.000000"

var comparisonColumns = []string{
	"timeStamp",
	"stageUrl",
	"stageDuration",
	"prodUrl",
	"prodDuration",
	"durationRatio",
	"stageXDrupalCache",
	"stageCacheControl",
	"prodXDrupalCache",
	"prodCacheControl",
	"stageHeaders",
	"prodHeaders",
}

var sampleColumns = []string{
	"timeStamp",
	"environment",
	"key",
	"url",
	"status",
	"elapsed",
	"responseTime",
	"bytes",
	"mbPerSecond",
	"xDrupalCache",
	"cacheControl",
	"error",
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 6, 64)
}

// WriteCSV writes the comparisons of the report to path, replacing the
// file atomically.
func (r *Report) WriteCSV(path string) error {
	rows := make([][]string, 0, len(r.comparisons))
	for _, c := range r.comparisons {
		ratio := ""
		if c.Prod.Elapsed > 0 {
			ratio = strconv.FormatFloat(c.Ratio(), 'f', 6, 64)
		}
		rows = append(rows, []string{
			c.Time.Format(timeStampLayout),
			c.Stage.URL,
			seconds(c.Stage.Elapsed),
			c.Prod.URL,
			seconds(c.Prod.Elapsed),
			ratio,
			c.Stage.XDrupalCache,
			c.Stage.CacheControl,
			c.Prod.XDrupalCache,
			c.Prod.CacheControl,
			c.Stage.Headers,
			c.Prod.Headers,
		})
	}
	return writeCSV(path, comparisonColumns, rows)
}

// WriteSamplesCSV writes one row per sample.
func (r *Report) WriteSamplesCSV(path string) error {
	rows := make([][]string, 0, len(r.samples))
	for _, s := range r.samples {
		status := ""
		if s.StatusCode != 0 {
			status = strconv.Itoa(s.StatusCode)
		}
		rows = append(rows, []string{
			s.Time.Format(timeStampLayout),
			s.Environment,
			s.Key,
			s.URL,
			status,
			seconds(s.Elapsed),
			seconds(s.ResponseTime),
			strconv.FormatInt(s.Bytes, 10),
			strconv.FormatFloat(s.MBPerSecond, 'f', 3, 64),
			s.XDrupalCache,
			s.CacheControl,
			s.Error,
		})
	}
	return writeCSV(path, sampleColumns, rows)
}

func writeCSV(path string, header []string, rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return persist.ReplaceFile(path, buf.Bytes(), 0o644)
}

type jsonReport struct {
	RunID       string       `json:"run_id"`
	Environment string       `json:"environment"`
	Started     time.Time    `json:"started"`
	Summary     Summary      `json:"summary"`
	Samples     []Sample     `json:"samples"`
	Comparisons []Comparison `json:"comparisons,omitempty"`
}

// WriteJSON writes the samples and the summary to path.
func (r *Report) WriteJSON(path string) error {
	samples := r.samples
	if samples == nil {
		samples = []Sample{}
	}
	b, err := json.MarshalIndent(jsonReport{
		RunID:       r.RunID.String(),
		Environment: r.Environment,
		Started:     r.Started,
		Summary:     r.Summary(),
		Samples:     samples,
		Comparisons: r.comparisons,
	}, "", "    ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return persist.ReplaceFile(path, b, 0o644)
}
