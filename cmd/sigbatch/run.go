package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"

	"sigbatch/internal/app"
	"sigbatch/internal/task/coordinator"
	"sigbatch/internal/task/scheduler"
	"sigbatch/internal/task/unit"
)

const outputWidth = 60

func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./sigbatch.yaml", "path to config yaml/json")
	manifestPath := fs.String("manifest", "", "path to batch manifest")
	quiet := fs.Bool("quiet", false, "no progress bar")
	_ = fs.Parse(args)
	if *manifestPath == "" {
		fmt.Fprintln(os.Stderr, "run: -manifest is required")
		return 2
	}

	// SIGINT/SIGTERM cancel ctx, which terminates the batch.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}
	defer func() { _ = a.Stop(context.Background(), app.StopRunDone) }()

	var bar *progressbar.ProgressBar
	if !*quiet {
		colorPrintLn(Bold, "Running batch...")
		bar = makeProgressBar()
	}
	onProgress := func(done, total int) {
		if bar == nil {
			return
		}
		if int64(total) != bar.GetMax64() {
			bar.ChangeMax(total)
		}
		_ = bar.Set(done)
	}

	start := time.Now()
	req, res, err := a.RunManifest(ctx, *manifestPath, scheduler.ProgressFunc(onProgress))
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil && !errors.Is(err, scheduler.ErrBatchTerminated) {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}

	failed, terminated := renderResults(req, res)
	fmt.Println()
	summary := fmt.Sprintf("%d units, %d failed, %d terminated in %s\n", len(res), failed, terminated, time.Since(start).Round(time.Millisecond))
	switch {
	case err != nil:
		colorPrintf(Yellow, "Batch terminated: %s", summary)
		return 130
	case failed > 0:
		colorPrintf(Red, "Batch finished with failures: %s", summary)
		return 1
	default:
		colorPrintf(Green, "Batch finished: %s", summary)
		return 0
	}
}

func makeProgressBar() *progressbar.ProgressBar {
	return progressbar.NewOptions(1,
		progressbar.OptionSetDescription("Computing"),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionThrottle(65*time.Millisecond),
	)
}

func renderResults(req coordinator.Request, res []unit.Result) (failed, terminated int) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("#", "Item", "Status", "Output")
	for i, r := range res {
		name := ""
		if i < len(req.Items) {
			name = req.Items[i].Name
		}
		if name == "" {
			name = fmt.Sprintf("%s#%d", req.Operation, i)
		}
		var status, out string
		switch {
		case errors.Is(r.Err, unit.ErrTerminated):
			terminated++
			status, out = color.YellowString("terminated"), ""
		case r.Failed():
			failed++
			status, out = color.RedString("failed"), r.Err.Error()
		default:
			status, out = color.GreenString("ok"), string(r.Value)
		}
		_ = table.Append(strconv.Itoa(i), name, status, clip(out, outputWidth))
	}
	_ = table.Render()
	return failed, terminated
}

// clip collapses whitespace and cuts s to at most n runes.
func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
