package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "sigbatch/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: got (%v, %v), want (nil, nil)", driver, st, err)
		}
	}
	if _, err := Recent(context.Background(), nil, 5); err != ErrDisabled {
		t.Fatalf("Recent on nil store = %v, want ErrDisabled", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for file driver without path")
	}
}

func TestDriversRoundTripNewestFirst(t *testing.T) {
	t.Parallel()
	cases := []struct {
		driver string
		file   string
	}{
		{"file", "history.json"},
		{"sqlite", "history.db"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.driver, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "state", tc.file)
			st, err := Open(Config{Driver: tc.driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer st.Close()

			ctx := context.Background()
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				rec := BatchRecord{
					ID:          fmt.Sprintf("b%d", i),
					Operation:   "bispectrum",
					Status:      StatusFinished,
					Units:       4,
					TotalWeight: 16,
					Capacity:    9,
					StartedAt:   base.Add(time.Duration(i) * time.Minute),
					FinishedAt:  base.Add(time.Duration(i)*time.Minute + 30*time.Second),
				}
				if i == 4 {
					rec.Status, rec.Terminated, rec.Job, rec.Error = StatusTerminated, 2, "nightly", "batch terminated"
				}
				if err := st.AppendBatch(ctx, rec); err != nil {
					t.Fatalf("AppendBatch: %v", err)
				}
			}

			got, err := st.RecentBatches(ctx, 3)
			if err != nil {
				t.Fatalf("RecentBatches: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("len = %d, want 3", len(got))
			}
			for i, want := range []string{"b4", "b3", "b2"} {
				if got[i].ID != want {
					t.Fatalf("got[%d].ID = %s, want %s", i, got[i].ID, want)
				}
			}
			newest := got[0]
			if newest.Status != StatusTerminated || newest.Job != "nightly" || newest.Terminated != 2 || newest.Error == "" {
				t.Fatalf("newest record = %+v", newest)
			}
			if newest.Took() != 30*time.Second {
				t.Fatalf("Took = %v, want 30s", newest.Took())
			}

			all, err := st.RecentBatches(ctx, 100)
			if err != nil || len(all) != 5 {
				t.Fatalf("RecentBatches(100) = %d records, err %v", len(all), err)
			}
			if none, _ := st.RecentBatches(ctx, 0); len(none) != 0 {
				t.Fatalf("limit 0 returned %d records", len(none))
			}
		})
	}
}

func TestFileStoreClosed(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "h.json")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := st.AppendBatch(context.Background(), BatchRecord{ID: "x"}); err == nil {
		t.Fatal("append after close should fail")
	}
}
