package telegram

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/go-pkgz/lgr"
)

// pacing intervals per unit of weight, see
// https://core.telegram.org/bots/faq#my-bot-is-hitting-limits-how-do-i-avoid-this
const (
	globalPace      = 50 * time.Millisecond
	destinationPace = 3 * time.Second
)

// Task is one rendered message queued for delivery
type Task struct {
	Destination string
	Type        string
	Args        map[string]string
	// Weight is the pacing cost of the call: 1 for a single message, the
	// item count for a batched one
	Weight int
}

// Sender is the outbound call surface, implemented by Client
type Sender interface {
	Send(ctx context.Context, chatID, msgType string, args map[string]string) error
}

// Stats accumulates delivery outcomes for the run report
type Stats struct {
	Sent     int
	Retries  int
	Failures map[string]int
}

// Scheduler paces and fans out outbound calls. It holds the clock state of
// the rate limiter for one run; nothing survives past the run.
type Scheduler struct {
	sender Sender

	now   func() time.Time
	sleep func(time.Duration)

	lastCall   time.Time
	lastWeight int
	byDest     map[string]*destState
}

type destState struct {
	at     time.Time
	weight int
}

// NewScheduler creates a delivery scheduler over the sender
func NewScheduler(sender Sender) *Scheduler {
	return &Scheduler{
		sender: sender,
		now:    time.Now,
		sleep:  time.Sleep,
		byDest: map[string]*destState{},
	}
}

// Deliver sends every task, round-robin by task index across destinations so
// one destination's backlog cannot starve another's early tasks. A failure is
// recorded per destination and never aborts the rest of the run.
func (s *Scheduler) Deliver(ctx context.Context, tasks map[string][]Task) Stats {
	stats := Stats{Failures: map[string]int{}}

	dests := make([]string, 0, len(tasks))
	for d := range tasks {
		dests = append(dests, d)
	}
	sort.Strings(dests)

	for idx := 0; ; idx++ {
		sent := false
		for _, d := range dests {
			queue := tasks[d]
			if idx >= len(queue) {
				continue
			}
			sent = true
			s.send(ctx, queue[idx], &stats)
		}
		if !sent {
			return stats
		}
	}
}

// send paces, performs the call, and keeps retrying the identical call for as
// long as the platform answers with a retry delay
func (s *Scheduler) send(ctx context.Context, t Task, stats *Stats) {
	for {
		s.pace(t.Destination)

		err := s.sender.Send(ctx, t.Destination, t.Type, t.Args)
		s.record(t.Destination, t.Weight)

		if err == nil {
			stats.Sent++
			return
		}

		var throttled *ThrottledError
		if errors.As(err, &throttled) {
			lgr.Printf("[WARN] throttled sending to %s, retrying in %s", t.Destination, throttled.RetryAfter)
			stats.Retries++
			s.sleep(throttled.RetryAfter)
			continue
		}

		lgr.Printf("[ERROR] send %s to %s failed: %v", t.Type, t.Destination, err)
		stats.Failures[t.Destination]++
		return
	}
}

// pace blocks until both the global and the per-destination intervals since
// the previous calls have elapsed; the interval scales with the weight of the
// previous call, not the upcoming one
func (s *Scheduler) pace(dest string) {
	s.sleepUntil(s.lastCall.Add(globalPace * time.Duration(s.lastWeight)))
	if ds, ok := s.byDest[dest]; ok {
		s.sleepUntil(ds.at.Add(destinationPace * time.Duration(ds.weight)))
	}
}

func (s *Scheduler) record(dest string, weight int) {
	if weight < 1 {
		weight = 1
	}
	now := s.now()
	s.lastCall = now
	s.lastWeight = weight
	s.byDest[dest] = &destState{at: now, weight: weight}
}

func (s *Scheduler) sleepUntil(t time.Time) {
	if d := t.Sub(s.now()); d > 0 {
		s.sleep(d)
	}
}
