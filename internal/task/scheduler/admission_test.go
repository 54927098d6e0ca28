package scheduler

import (
	"math/rand"
	"testing"
)

func TestAdmitCount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		pending       []int
		runningWeight int
		runningCount  int
		capacity      int
		want          int
	}{
		{name: "empty queue", pending: nil, capacity: 5, want: 0},
		{name: "six unit tasks capacity five", pending: []int{1, 1, 1, 1, 1, 1}, capacity: 5, want: 5},
		{name: "exact fit", pending: []int{2, 3}, capacity: 5, want: 2},
		{name: "prefix stops at first misfit", pending: []int{2, 4, 1}, capacity: 5, want: 1},
		{name: "partially full", pending: []int{1, 1, 1}, runningWeight: 3, runningCount: 3, capacity: 5, want: 2},
		{name: "full", pending: []int{1}, runningWeight: 5, runningCount: 5, capacity: 5, want: 0},
		{name: "oversized head alone", pending: []int{10, 1}, capacity: 4, want: 1},
		{name: "oversized head while busy waits", pending: []int{10}, runningWeight: 1, runningCount: 1, capacity: 4, want: 0},
		{name: "over capacity blocks everything", pending: []int{1, 1}, runningWeight: 10, runningCount: 1, capacity: 4, want: 0},
		{name: "two oversized queued admits one", pending: []int{9, 9}, capacity: 4, want: 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := admitCount(tt.pending, tt.runningWeight, tt.runningCount, tt.capacity)
			if got != tt.want {
				t.Fatalf("admitCount(%v, %d, %d, %d) = %d, want %d",
					tt.pending, tt.runningWeight, tt.runningCount, tt.capacity, got, tt.want)
			}
		})
	}
}

// TestAdmitCountCapacityInvariant simulates random batches and checks that the
// running weight never exceeds capacity unless the forward-progress exception
// applied (a single unit heavier than capacity running alone).
func TestAdmitCountCapacityInvariant(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 500; iter++ {
		capacity := 1 + rng.Intn(9)
		n := rng.Intn(30)
		queue := make([]int, n)
		for i := range queue {
			queue[i] = 1 + rng.Intn(capacity+3)
		}

		var running []int
		runningWeight := 0
		for len(queue) > 0 || len(running) > 0 {
			k := admitCount(queue, runningWeight, len(running), capacity)
			if k > 0 && len(running) > 0 && runningWeight > capacity {
				t.Fatalf("admitted alongside an oversized unit: cap=%d running=%v", capacity, running)
			}
			for _, w := range queue[:k] {
				running = append(running, w)
				runningWeight += w
			}
			queue = queue[k:]

			if runningWeight > capacity {
				if len(running) != 1 || running[0] <= capacity {
					t.Fatalf("capacity %d exceeded without exception: running=%v", capacity, running)
				}
			}
			if len(running) == 0 && len(queue) > 0 {
				t.Fatalf("deadlock: nothing running, queue=%v", queue)
			}

			// Finish a random running unit.
			if len(running) > 0 {
				j := rng.Intn(len(running))
				runningWeight -= running[j]
				running = append(running[:j], running[j+1:]...)
			}
		}
	}
}
