// Package jobs fires recurring batches on a schedule (cron, interval or
// HH:MM interval). A job whose previous run is still in flight is skipped
// rather than queued.
package jobs
