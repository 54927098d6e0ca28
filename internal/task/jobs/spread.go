package jobs

import (
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// spreadSchedule delays the first run of an interval job by a random amount
// so jobs configured with the same interval do not all fire together after a
// restart. Later runs follow the base schedule.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

func intervalWithSpread(every time.Duration, now time.Time, tag string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	spreadMax := min(every, maxStartupSpread)
	if spreadMax <= 0 {
		return base, 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(tag))
	rng := rand.New(rand.NewSource(now.UnixNano() ^ int64(h.Sum64())))
	// cron.Every works in whole seconds; a sub-second first fire would make
	// the second gap shorter than every.
	jitter := time.Duration(rng.Int63n(int64(spreadMax))).Truncate(time.Second)
	first := now.Add(every + jitter).Truncate(time.Second)
	return &spreadSchedule{base: base, first: first}, jitter
}
