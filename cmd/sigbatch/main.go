package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	Bold   = color.New(color.Bold)
	Green  = color.New(color.FgGreen)
	Red    = color.New(color.FgRed)
	Yellow = color.New(color.FgYellow)
)

const usage = `usage: sigbatch <command> [flags]

commands:
  run      run one batch manifest with a progress bar
  daemon   run configured recurring jobs (hot-reloads config, SIGHUP reloads now)
  history  print recent batches from the configured store
  worker   built-in demo worker: reads a payload on stdin, writes the result on stdout
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var code int
	switch os.Args[1] {
	case "run":
		code = runCmd(os.Args[2:])
	case "daemon":
		code = daemonCmd(os.Args[2:])
	case "history":
		code = historyCmd(os.Args[2:])
	case "worker":
		code = workerCmd(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		code = 2
	}
	os.Exit(code)
}

func colorPrintLn(c *color.Color, a ...any) {
	_, _ = c.Println(a...)
}

func colorPrintf(c *color.Color, format string, a ...any) {
	_, _ = c.Printf(format, a...)
}
