package search

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fivecolleges/compassprobe/persist"
)

// TrendRecord is the headline numbers of one saved run.
type TrendRecord struct {
	Datestamp   time.Time `json:"datestamp"`
	AvgQTime    float64   `json:"avgqtime"`
	AvgNumFound float64   `json:"avgnumfound"`
}

// Trend reads saved run reports for environment in file name order.
// Reports for other environments are skipped.
func Trend(files []string, environment string) ([]TrendRecord, error) {
	files = slices.Clone(files)
	slices.Sort(files)

	records := []TrendRecord{}
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		var rr RunReport
		if err := json.Unmarshal(b, &rr); err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		if rr.Summary.Environment != environment {
			continue
		}
		records = append(records, TrendRecord{
			Datestamp:   rr.Summary.Start,
			AvgQTime:    rr.Summary.FirstTimeAvg,
			AvgNumFound: rr.Summary.NumFoundAverage,
		})
	}
	return records, nil
}

// TrendFiles expands pattern, e.g. output/solr*.json.
func TrendFiles(pattern string) ([]string, error) {
	return filepath.Glob(pattern)
}

func WriteTrend(path string, records []TrendRecord) error {
	b, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return err
	}
	return persist.ReplaceFile(path, append(b, '\n'), 0o644)
}
