// Package main provides the entry point for the revealrank collector.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/revealrank/revealrank/internal/config"
	"github.com/revealrank/revealrank/internal/di"
	domainerrors "github.com/revealrank/revealrank/internal/errors"
	"github.com/revealrank/revealrank/internal/logger"
	"github.com/revealrank/revealrank/internal/service"
)

// topN is the number of ranked items printed after a run.
const topN = 10

func main() {
	os.Exit(run())
}

func run() int {
	injector := di.NewContainer(os.Args[1:])

	if err := di.Bootstrap(injector); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		return 1
	}

	cfg := do.MustInvoke[*config.Config](injector)
	log := do.MustInvoke[*logger.Logger](injector)
	collector := do.MustInvoke[*service.CollectorService](injector)
	rc := do.MustInvoke[*service.RunConfig](injector)

	defer func() {
		if err := injector.Shutdown(); err != nil {
			log.Error("Shutdown error", "error", err)
		}
	}()

	// The first signal cancels the run; the collector still writes its final checkpoint.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runLog := log.WithProject(rc.ProjectKey)
	var (
		report *service.Report
		err    error
	)
	if cfg.Rarity.Rescore {
		report, err = collector.Rescore(ctx, rc.ProjectKey, rc.ScoreKey)
	} else {
		report, err = collector.Run(ctx, *rc)
	}
	if err != nil {
		if domainerrors.CodeOf(err) == domainerrors.CodeCanceled {
			runLog.Warn("Run canceled, progress saved")
			return 130
		}
		runLog.WithError(err).Error("Run failed")
		return 1
	}

	printReport(report)
	return 0
}

func printReport(report *service.Report) {
	p := report.Project
	fmt.Printf("%s: %d items (%d done, %d skipped, %d errored), score %s\n",
		p.Key, p.Progress.Total, p.Progress.Done, p.Progress.Skipped, p.Progress.Errored, p.ScoreKey)
	if report.Reveal != nil {
		fmt.Printf("revealed at %s after %d polls\n", report.Reveal.RevealedAt.Format("2006-01-02 15:04:05"), report.Reveal.Polls)
	}

	items := report.Collection.Items()
	for i, item := range items {
		if i == topN {
			break
		}
		if item.Scores == nil {
			continue
		}
		s := item.Scores.Get(p.ScoreKey)
		fmt.Printf("%4d  #%-6d %10.2f  %s\n", s.Rank, item.ID, s.Value, item.Name)
	}
}
