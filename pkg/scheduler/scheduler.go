// Package scheduler orchestrates one pipeline run: pick due feeds, fetch and
// extract, filter already-delivered items, aggregate per destination, render
// and deliver, persist state, report. Everything is strictly sequential; no
// feed or destination failure aborts the run.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/FelisNivalis/telegram-rss-bot/pkg/config"
	"github.com/FelisNivalis/telegram-rss-bot/pkg/expr"
	"github.com/FelisNivalis/telegram-rss-bot/pkg/source"
	"github.com/FelisNivalis/telegram-rss-bot/pkg/telegram"
)

// Fetcher retrieves one raw document
type Fetcher interface {
	Fetch(ctx context.Context, method, url string, headers map[string]string) ([]byte, error)
}

// Store is the persisted run state
type Store interface {
	LastFetchTimes(ctx context.Context) (map[string]time.Time, error)
	SetLastFetchTime(ctx context.Context, feed string, ts time.Time) error
	DedupRecord(ctx context.Context, feed string) ([]string, error)
	ReplaceDedupRecord(ctx context.Context, feed string, hashes []string) error
}

// Deliverer fans out rendered tasks
type Deliverer interface {
	Deliver(ctx context.Context, tasks map[string][]telegram.Task) telegram.Stats
}

// Scheduler runs the fetch-to-deliver pipeline
type Scheduler struct {
	cfg      *config.Config
	resolved *config.Resolved
	fetcher  Fetcher
	store    Store
	delivery Deliverer
	funcs    map[string]expr.Func

	now func() time.Time
	rnd func() float64
}

// Params collects the scheduler dependencies
type Params struct {
	Config   *config.Config
	Fetcher  Fetcher
	Store    Store
	Delivery Deliverer
	// Funcs is the expression allow-list; DefaultFuncs when nil
	Funcs map[string]expr.Func
}

// New creates a scheduler; the feed/group graph is resolved once here
func New(p Params) *Scheduler {
	funcs := p.Funcs
	if funcs == nil {
		funcs = expr.DefaultFuncs()
	}
	return &Scheduler{
		cfg:      p.Config,
		resolved: p.Config.Resolve(),
		fetcher:  p.Fetcher,
		store:    p.Store,
		delivery: p.Delivery,
		funcs:    funcs,
		now:      time.Now,
		rnd:      rand.Float64, //nolint:gosec // jitter needs no cryptographic randomness
	}
}

// Run executes one full pipeline pass and returns its report
func (s *Scheduler) Run(ctx context.Context) (*Report, error) {
	if s.cfg.Telegram.Token == "" {
		return nil, fmt.Errorf("no bot token, refusing to run")
	}

	rep := NewReport(s.now())
	for _, e := range s.resolved.Errors {
		rep.Count(ErrConfig)
		rep.Notef("config: %s", e)
		lgr.Printf("[ERROR] config: %s", e)
	}

	// only feeds reachable from a destination binding are candidates
	intervals := s.reachableIntervals()

	last, err := s.store.LastFetchTimes(ctx)
	if err != nil {
		// run with everything due rather than abort; persistence may recover
		rep.Count(ErrStore)
		lgr.Printf("[ERROR] load last fetch times: %v", err)
		last = map[string]time.Time{}
	}

	due := dueFeeds(intervals, last, s.now(), s.cfg.Schedule.Jitter, s.rnd)
	rep.FeedsDue = len(due)
	lgr.Printf("[INFO] run started, %d of %d feeds due", len(due), len(intervals))

	newItems := map[string][]Item{}
	fetchedAt := map[string]time.Time{}
	for _, name := range due {
		items, ok := s.fetchFeed(ctx, name, rep)
		if !ok {
			continue
		}
		newItems[name] = items
		fetchedAt[name] = s.now()
		rep.FeedsFetched = append(rep.FeedsFetched, name)
	}

	// fan out per destination
	tasks := map[string][]telegram.Task{}
	for _, dest := range sortedStringMap(s.cfg.Destinations) {
		queue := s.aggregate(dest, s.cfg.Destinations[dest], newItems, rep)
		if len(queue) > 0 {
			tasks[dest] = queue
		}
	}

	stats := s.delivery.Deliver(ctx, tasks)
	rep.DeliverySent = stats.Sent
	rep.DeliveryRetries = stats.Retries
	for d, n := range stats.Failures {
		rep.DeliveryFailures[d] += n
	}

	// state is persisted only after the send attempts: an item is never
	// marked delivered before its send attempt, duplicates beat losses
	s.persist(ctx, newItems, fetchedAt, rep)

	s.sendReport(ctx, rep)
	lgr.Printf("[INFO] run finished: %d delivered, %d errors", rep.DeliverySent, rep.ErrorTotal())
	return rep, nil
}

// reachableIntervals maps every feed reachable from a destination binding to
// its poll interval
func (s *Scheduler) reachableIntervals() map[string]time.Duration {
	intervals := map[string]time.Duration{}
	for _, dest := range sortedStringMap(s.cfg.Destinations) {
		group := s.cfg.Destinations[dest]
		members, ok := s.resolved.Groups[group]
		if !ok {
			// reported once, when aggregate hits the same binding
			continue
		}
		for _, m := range members {
			f, known := s.resolved.Feeds[m.FeedName]
			if !known || f.URL == "" {
				continue
			}
			intervals[m.FeedName] = time.Duration(f.Interval) * time.Minute
		}
	}
	return intervals
}

// fetchFeed fetches, parses and extracts one feed, returning its new items
// after the dedup boundary scan. Any failure skips the feed for this run.
func (s *Scheduler) fetchFeed(ctx context.Context, name string, rep *Report) ([]Item, bool) {
	f := s.resolved.Feeds[name]

	raw, err := s.fetcher.Fetch(ctx, f.Method, f.URL, f.Headers)
	if err != nil {
		rep.Count(ErrFetch)
		lgr.Printf("[ERROR] fetch feed %q: %v", name, err)
		return nil, false
	}

	doc, err := source.Parse(source.Type(f.SourceType), raw)
	if err != nil {
		rep.Count(ErrParse)
		lgr.Printf("[ERROR] parse feed %q: %v", name, err)
		return nil, false
	}

	if hint, ok := doc.RefreshHint(); ok {
		if configured := time.Duration(f.Interval) * time.Minute; hint > configured {
			rep.Notef("feed %q advertises refresh interval %s, configured %s", name, hint, configured)
			lgr.Printf("[WARN] feed %q advertises refresh interval %s, configured %s", name, hint, configured)
		}
	}

	nodes, err := doc.Items(f.ItemSelector)
	if err != nil {
		rep.Count(ErrParse)
		lgr.Printf("[ERROR] select items of feed %q: %v", name, err)
		return nil, false
	}

	items := make([]Item, 0, len(nodes))
	for _, node := range nodes {
		fields, errs := source.ExtractFields(node, f.FieldSelectors)
		for _, e := range errs {
			rep.Count(ErrCardinality)
			lgr.Printf("[WARN] feed %q: %v", name, e)
		}
		identity, err := evalIdentity(f.IDExpr, fields, s.funcs)
		if err != nil || identity == "" {
			rep.Count(ErrIdentity)
			lgr.Printf("[WARN] feed %q: identity failed: %v", name, err)
			continue
		}
		items = append(items, Item{Feed: name, Fields: fields, Hash: identityHash(identity)})
	}
	rep.Extracted[name] = len(items)

	prior, err := s.store.DedupRecord(ctx, name)
	if err != nil {
		rep.Count(ErrStore)
		lgr.Printf("[ERROR] load dedup record of %q: %v", name, err)
	}

	fresh := scanNew(items, prior)
	rep.New[name] = len(fresh)
	return fresh, true
}

// persist writes dedup records and fetch timestamps for every feed whose
// fetch-and-extract fully completed. A feed with no new items keeps its
// prior record, otherwise every quiet interval would forget the boundary.
func (s *Scheduler) persist(ctx context.Context, newItems map[string][]Item, fetchedAt map[string]time.Time, rep *Report) {
	for _, name := range sortedTimeMap(fetchedAt) {
		if items := newItems[name]; len(items) > 0 {
			if err := s.store.ReplaceDedupRecord(ctx, name, recordHashes(items)); err != nil {
				rep.Count(ErrStore)
				lgr.Printf("[ERROR] persist dedup record of %q: %v", name, err)
				continue
			}
		}
		if err := s.store.SetLastFetchTime(ctx, name, fetchedAt[name]); err != nil {
			rep.Count(ErrStore)
			lgr.Printf("[ERROR] persist fetch time of %q: %v", name, err)
		}
	}
}

// sendReport delivers the paginated run report to the admin destination
func (s *Scheduler) sendReport(ctx context.Context, rep *Report) {
	admin := s.cfg.Telegram.AdminChat
	if admin == "" {
		return
	}
	var tasks []telegram.Task
	for _, page := range telegram.Pages(rep.String()) {
		tasks = append(tasks, telegram.Task{
			Destination: admin,
			Type:        "Message",
			Args:        map[string]string{"text": page},
			Weight:      1,
		})
	}
	stats := s.delivery.Deliver(ctx, map[string][]telegram.Task{admin: tasks})
	if len(stats.Failures) > 0 {
		lgr.Printf("[ERROR] report delivery to %s failed", admin)
	}
}

func sortedStringMap(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedTimeMap(m map[string]time.Time) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ResolveErrors exposes configuration problems found at resolve time
func (s *Scheduler) ResolveErrors() []string { return s.resolved.Errors }
