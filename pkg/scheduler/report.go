package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// error counter kinds
const (
	ErrFetch       = "fetch"
	ErrParse       = "parse"
	ErrCardinality = "field_cardinality"
	ErrIdentity    = "identity_eval"
	ErrSortKey     = "sortkey_eval"
	ErrOverlay     = "field_overlay_eval"
	ErrConfig      = "config"
	ErrRender      = "render"
	ErrStore       = "store"
)

// Report accumulates per-run diagnostics; it lives for one run and is
// discarded after being rendered to the admin destination.
type Report struct {
	StartedAt time.Time

	FeedsDue     int
	FeedsFetched []string
	Extracted    map[string]int
	New          map[string]int

	Counters map[string]int
	Notes    []string

	DeliverySent     int
	DeliveryRetries  int
	DeliveryFailures map[string]int
}

// NewReport starts a report for a run beginning now
func NewReport(start time.Time) *Report {
	return &Report{
		StartedAt:        start,
		Extracted:        map[string]int{},
		New:              map[string]int{},
		Counters:         map[string]int{},
		DeliveryFailures: map[string]int{},
	}
}

// Count bumps the counter of one error kind
func (r *Report) Count(kind string) { r.Counters[kind]++ }

// Notef records a free-text diagnostic line
func (r *Report) Notef(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// ErrorTotal is the sum of all error counters and delivery failures
func (r *Report) ErrorTotal() int {
	total := 0
	for _, n := range r.Counters {
		total += n
	}
	for _, n := range r.DeliveryFailures {
		total += n
	}
	return total
}

// String renders the free-text report sent to the admin destination
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run started %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "feeds due: %d, fetched: %d\n", r.FeedsDue, len(r.FeedsFetched))

	for _, feed := range sortedKeys(r.Extracted) {
		fmt.Fprintf(&b, "  %s: %d items, %d new\n", feed, r.Extracted[feed], r.New[feed])
	}

	fmt.Fprintf(&b, "delivered: %d (retries: %d)\n", r.DeliverySent, r.DeliveryRetries)
	for _, dest := range sortedKeys(r.DeliveryFailures) {
		fmt.Fprintf(&b, "  failures to %s: %d\n", dest, r.DeliveryFailures[dest])
	}

	if r.ErrorTotal() == 0 {
		b.WriteString("no errors\n")
	} else {
		fmt.Fprintf(&b, "errors: %d\n", r.ErrorTotal())
		for _, kind := range sortedKeys(r.Counters) {
			fmt.Fprintf(&b, "  %s: %d\n", kind, r.Counters[kind])
		}
	}

	for _, note := range r.Notes {
		fmt.Fprintf(&b, "note: %s\n", note)
	}
	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
