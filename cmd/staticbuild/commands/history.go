package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/kata-ci/staticbuild/internal/history"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	HistoryDB string `name:"history-db" help:"SQLite run history path" default:"staticbuild.db"`
	Limit     int    `short:"n" help:"Number of runs to show" default:"20"`
	RunID     string `name:"run" help:"Show per-asset outcomes for one run ID"`
}

func (h *HistoryCmd) Run(_ *Global, _ *CLI) error {
	hist, err := history.NewStore(h.HistoryDB)
	if err != nil {
		return err
	}
	defer hist.Close()

	ctx := context.Background()
	if h.RunID != "" {
		return h.printTasks(ctx, hist)
	}

	runs, err := hist.RecentRuns(ctx, h.Limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("%s  %-8s %-8s %-12s %s\n",
			r.StartedAt.Format(time.RFC3339), r.Stage, r.Arch, r.Status, r.ID)
	}
	return nil
}

func (h *HistoryCmd) printTasks(ctx context.Context, hist *history.Store) error {
	tasks, err := hist.Tasks(ctx, h.RunID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		line := fmt.Sprintf("  %-40s %s", t.Asset, t.Status)
		if t.Error != "" {
			line += "  " + t.Error
		}
		fmt.Println(line)
	}
	return nil
}
