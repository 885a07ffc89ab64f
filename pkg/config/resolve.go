package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Member is one feed included in a resolved group, together with the overlay
// accumulated from every group level it passed through on the way in.
type Member struct {
	FeedName string
	Overlay  map[string]any
}

// Resolved is the effective feed/group graph built from raw configuration.
// Groups maps group name to its ordered (feed, overlay) member list; every
// feed with a URL is also present as its own trivial one-member group.
type Resolved struct {
	Feeds  map[string]Feed
	Groups map[string][]Member

	// Errors collects non-fatal configuration problems: unknown expand_from
	// parents and unknown group members. The offending entity is skipped.
	Errors []string

	defaultInterval int
}

// Resolve builds the effective feed/group graph: applies expand_from
// inheritance to feeds, registers each feed as a trivial group, then expands
// declared groups in order. Groups may reference earlier groups; a forward or
// self reference is unknown at expansion time and reported as a config error.
func (c *Config) Resolve() *Resolved {
	res := &Resolved{
		Feeds:           map[string]Feed{},
		Groups:          map[string][]Member{},
		defaultInterval: c.Schedule.DefaultInterval,
	}

	rawByName := map[string]map[string]any{}
	for i := range c.Feeds {
		rawByName[c.Feeds[i].Name] = c.Feeds[i].raw
	}

	// (a) feed inheritance
	for i := range c.Feeds {
		f := c.Feeds[i]
		effective := f.raw
		if len(f.ExpandFrom) > 0 {
			merged := map[string]any{}
			ok := true
			for _, parent := range f.ExpandFrom {
				parentRaw, known := rawByName[parent]
				if !known {
					res.errorf("feed %q: unknown expand_from parent %q", f.Name, parent)
					ok = false
					break
				}
				merged = Merge(merged, parentRaw)
			}
			// on unknown parent the feed keeps its own fields only
			if ok {
				effective = Merge(merged, f.raw)
			}
		}
		resolved, err := decodeFeed(effective)
		if err != nil {
			res.errorf("feed %q: %v", f.Name, err)
			continue
		}
		resolved.Name = f.Name
		res.Feeds[f.Name] = resolved.withDefaults(res.defaultInterval)
	}

	// (b) every feed with a URL is its own trivial group
	for name, f := range res.Feeds {
		if f.URL == "" {
			continue
		}
		res.Groups[name] = []Member{{FeedName: name, Overlay: map[string]any{}}}
	}

	// (c) declared groups, in order
	for i := range c.Groups {
		g := c.Groups[i]
		overlay := g.Overlay()
		var members []Member
		for _, m := range g.Members {
			sub, known := res.Groups[m]
			if !known || m == g.Name {
				res.errorf("group %q: unknown member %q", g.Name, m)
				continue
			}
			for _, sm := range sub {
				members = append(members, Member{
					FeedName: sm.FeedName,
					Overlay:  Merge(sm.Overlay, overlay),
				})
			}
		}
		res.Groups[g.Name] = members
	}

	return res
}

// Effective returns the named feed's configuration with a group overlay
// deep-merged on top, as one typed view.
func (r *Resolved) Effective(feedName string, overlay map[string]any) (Feed, error) {
	f, ok := r.Feeds[feedName]
	if !ok {
		return Feed{}, fmt.Errorf("unknown feed %q", feedName)
	}
	if len(overlay) == 0 {
		return f, nil
	}
	merged, err := decodeFeed(Merge(f.raw, overlay))
	if err != nil {
		return Feed{}, fmt.Errorf("feed %q overlay: %w", feedName, err)
	}
	merged.Name = f.Name
	return merged.withDefaults(r.defaultInterval), nil
}

func (r *Resolved) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// decodeFeed turns a merged raw mapping back into a typed feed. Round-trip
// through yaml keeps decoding rules identical to the initial load.
func decodeFeed(raw map[string]any) (Feed, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return Feed{}, fmt.Errorf("marshal merged config: %w", err)
	}
	var f Feed
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Feed{}, fmt.Errorf("decode merged config: %w", err)
	}
	return f, nil
}

// withDefaults fills the standard RSS extraction defaults for unset fields
func (f Feed) withDefaults(interval int) Feed {
	if f.Method == "" {
		f.Method = "GET"
	}
	if f.SourceType == "" {
		f.SourceType = "XML"
	}
	if f.ItemSelector == "" {
		f.ItemSelector = DefaultItemSelector
	}
	if len(f.FieldSelectors) == 0 {
		f.FieldSelectors = DefaultFieldSelectors()
	}
	if f.IDExpr == "" {
		f.IDExpr = DefaultIDExpr
	}
	if f.DefaultSortKey == "" {
		f.DefaultSortKey = DefaultSortKey
	}
	if f.Interval == 0 {
		f.Interval = interval
	}
	return f
}
