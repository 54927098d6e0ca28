package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// workerCmd speaks the worker process protocol: the payload arrives on
// stdin, the result goes to stdout, and a non-zero exit is a failure whose
// stderr tail is reported.
func workerCmd(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	op := fs.String("op", "echo", "echo | upper | sleep | fail")
	delay := fs.Duration("delay", time.Second, "sleep duration when the payload is not a duration")
	_ = fs.Parse(args)

	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read payload:", err)
		return 1
	}

	switch *op {
	case "echo":
		_, _ = os.Stdout.Write(payload)
	case "upper":
		_, _ = os.Stdout.Write(bytes.ToUpper(payload))
	case "sleep":
		d := *delay
		if v, err := time.ParseDuration(strings.TrimSpace(string(payload))); err == nil {
			d = v
		}
		time.Sleep(d)
		fmt.Fprintf(os.Stdout, "slept %s", d)
	case "fail":
		fmt.Fprintf(os.Stderr, "worker: refusing payload %q\n", strings.TrimSpace(string(payload)))
		return 3
	default:
		fmt.Fprintf(os.Stderr, "worker: unknown op %q\n", *op)
		return 2
	}
	return 0
}
