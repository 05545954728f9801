package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fivecolleges/compassprobe/history"
)

type HistoryCmd struct {
	Show  HistoryShowCmd  `cmd:"" help:"List history entries"`
	Prune HistoryPruneCmd `cmd:"" help:"Remove old history entries"`
}

type HistoryShowCmd struct {
	HistoryFile string `default:"queryhistory.json" env:"PROBE_HISTORY_FILE" help:"History file"`
	HistoryTZ   string `default:"UTC" name:"history-tz" env:"PROBE_HISTORY_TZ" help:"Time zone of history timestamps (UTC, Local or an IANA name)"`
}

func (cmd *HistoryShowCmd) Run(ctx context.Context) error {
	loc, err := history.ParseLocation(cmd.HistoryTZ)
	if err != nil {
		return err
	}
	store, err := history.Open(ctx, cmd.HistoryFile, history.WithoutPersistence(), history.WithLocation(loc))
	if err != nil {
		return err
	}
	defer store.Close()

	return showHistory(os.Stdout, store, time.Now())
}

func showHistory(w io.Writer, store *history.Store, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, k := range store.Keys() {
		t, _ := store.Lookup(k)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Format(history.TimeLayout), now.Sub(t).Round(time.Second), k)
	}
	return tw.Flush()
}

type HistoryPruneCmd struct {
	HistoryFile string        `default:"queryhistory.json" env:"PROBE_HISTORY_FILE" help:"History file"`
	HistoryTZ   string        `default:"UTC" name:"history-tz" env:"PROBE_HISTORY_TZ" help:"Time zone of history timestamps (UTC, Local or an IANA name)"`
	OlderThan   time.Duration `default:"720h" name:"older-than" help:"Remove entries last used longer ago than this"`
}

func (cmd *HistoryPruneCmd) Run(ctx context.Context) error {
	loc, err := history.ParseLocation(cmd.HistoryTZ)
	if err != nil {
		return err
	}
	store, err := history.Open(ctx, cmd.HistoryFile, history.WithLock(), history.WithLocation(loc))
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Prune(ctx, cmd.OlderThan, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("removed %d entries, %d remaining\n", n, store.Len())
	return nil
}
