package scheduler

import (
	"math"
	"sort"
	"time"
)

// jitterSteepness shapes the logistic early-fetch probability: close to due
// means likely picked up, far from due means almost never
const jitterSteepness = 12.0

// dueFeeds selects the feeds whose poll interval has elapsed since their last
// fetch. With jitter enabled a feed may also be picked slightly early, with
// probability rising logistically as it approaches due; this spreads feeds
// sharing a run cadence over different runs. A feed never fetched is always
// due. The result is sorted for deterministic processing order.
func dueFeeds(intervals map[string]time.Duration, last map[string]time.Time, now time.Time, jitter bool, rnd func() float64) []string {
	var due []string
	for feed, interval := range intervals {
		lastAt, fetched := last[feed]
		if !fetched || interval <= 0 {
			due = append(due, feed)
			continue
		}
		elapsed := now.Sub(lastAt)
		if elapsed > interval {
			due = append(due, feed)
			continue
		}
		if jitter {
			x := float64(elapsed) / float64(interval)
			p := 1 / (1 + math.Exp(-jitterSteepness*(x-1)))
			if rnd() < p {
				due = append(due, feed)
			}
		}
	}
	sort.Strings(due)
	return due
}
