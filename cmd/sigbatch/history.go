package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"sigbatch/internal/app"
	"sigbatch/internal/storage"
)

func historyCmd(args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	cfgPath := fs.String("config", "./sigbatch.yaml", "path to config yaml/json")
	limit := fs.Int("n", 20, "number of batches")
	_ = fs.Parse(args)

	a, err := app.New(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}
	defer func() { _ = a.Stop(context.Background(), app.StopRunDone) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	recs, err := storage.Recent(ctx, a.Store(), *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "history:", err)
		return 1
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Started", "Batch", "Operation", "Job", "Status", "Units", "Failed", "Terminated", "Took")
	for _, r := range recs {
		status := Green.Sprint(r.Status)
		if r.Status == storage.StatusTerminated {
			status = Yellow.Sprint(r.Status)
		} else if r.Failed > 0 {
			status = Red.Sprint(r.Status)
		}
		_ = table.Append(
			r.StartedAt.Local().Format(time.DateTime),
			r.ID,
			r.Operation,
			r.Job,
			status,
			strconv.Itoa(r.Units),
			strconv.Itoa(r.Failed),
			strconv.Itoa(r.Terminated),
			r.Took().Round(time.Millisecond).String(),
		)
	}
	_ = table.Render()
	return 0
}
