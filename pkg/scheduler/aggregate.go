package scheduler

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/go-pkgz/lgr"

	"github.com/FelisNivalis/telegram-rss-bot/pkg/config"
	"github.com/FelisNivalis/telegram-rss-bot/pkg/expr"
	"github.com/FelisNivalis/telegram-rss-bot/pkg/render"
	"github.com/FelisNivalis/telegram-rss-bot/pkg/telegram"
)

// aggregate pools this run's new items for one destination, applies overlays,
// sorts by the effective sort key and collapses duplicates that reached the
// destination through overlapping group memberships.
func (s *Scheduler) aggregate(dest, groupName string, newItems map[string][]Item, rep *Report) []telegram.Task {
	members, ok := s.resolved.Groups[groupName]
	if !ok {
		rep.Count(ErrConfig)
		rep.Notef("destination %s bound to unknown group %q", dest, groupName)
		lgr.Printf("[ERROR] destination %s bound to unknown group %q", dest, groupName)
		return nil
	}

	type pooled struct {
		item Item
		cfg  config.Feed
		key  any
	}
	var pool []pooled
	for _, m := range members {
		items := newItems[m.FeedName]
		if len(items) == 0 {
			continue
		}
		eff, err := s.resolved.Effective(m.FeedName, m.Overlay)
		if err != nil {
			rep.Count(ErrConfig)
			rep.Notef("group %q member %q: %v", groupName, m.FeedName, err)
			continue
		}
		for _, it := range items {
			fields := s.overlayFields(it.Fields, eff.FieldOverlay, rep)
			pool = append(pool, pooled{
				item: Item{Feed: it.Feed, Fields: fields, Hash: it.Hash},
				cfg:  eff,
				key:  s.sortKey(eff, fields, rep),
			})
		}
	}

	// ascending by sort key, pooling order breaks ties
	sort.SliceStable(pool, func(i, j int) bool {
		return expr.Compare(pool[i].key, pool[j].key) < 0
	})

	// second dedup pass scoped to this destination
	seen := map[string]bool{}
	var tasks []telegram.Task
	for _, p := range pool {
		identity, err := evalIdentity(p.cfg.IDExpr, p.item.Fields, s.funcs)
		if err != nil || identity == "" {
			rep.Count(ErrIdentity)
			continue
		}
		hash := identityHash(identity)
		if seen[hash] {
			continue
		}
		seen[hash] = true

		task, err := s.renderTask(dest, p.cfg, p.item.Fields)
		if err != nil {
			var dialectErr *render.UnsupportedDialectError
			if errors.As(err, &dialectErr) {
				rep.Count(ErrConfig)
			} else {
				rep.Count(ErrRender)
			}
			lgr.Printf("[ERROR] render for %s failed: %v", dest, err)
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// overlayFields applies the effective field overlay on top of the extracted
// fields; overlay values are expressions over the raw extraction
func (s *Scheduler) overlayFields(extracted map[string]any, overlay map[string]string, rep *Report) map[string]any {
	fields := make(map[string]any, len(extracted)+len(overlay))
	for k, v := range extracted {
		fields[k] = v
	}
	env := expr.Env{Vars: extracted, Funcs: s.funcs}
	for k, src := range overlay {
		v, err := expr.Eval(src, env)
		if err != nil {
			rep.Count(ErrOverlay)
			lgr.Printf("[WARN] field overlay %q failed: %v", k, err)
			continue
		}
		fields[k] = v
	}
	return fields
}

// sortKey evaluates the effective sort-key expression, falling back to the
// configured default on failure; absent both, order is stable as pooled
func (s *Scheduler) sortKey(eff config.Feed, fields map[string]any, rep *Report) any {
	env := expr.Env{Vars: fields, Funcs: s.funcs}
	if eff.SortKeyExpr != "" {
		v, err := expr.Eval(eff.SortKeyExpr, env)
		if err == nil {
			return v
		}
		rep.Count(ErrSortKey)
		lgr.Printf("[WARN] sort key for feed %q failed: %v", eff.Name, err)
	}
	v, err := expr.Eval(eff.DefaultSortKey, env)
	if err != nil {
		return 0.0
	}
	return v
}

// evalIdentity resolves an item's identity expression to text
func evalIdentity(idExpr string, fields map[string]any, funcs map[string]expr.Func) (string, error) {
	if idExpr == "" {
		idExpr = config.DefaultIDExpr
	}
	v, err := expr.Eval(idExpr, expr.Env{Vars: fields, Funcs: funcs})
	if err != nil {
		return "", err
	}
	return expr.ToString(v), nil
}

// renderTask renders the effective message config into a delivery task
func (s *Scheduler) renderTask(dest string, eff config.Feed, fields map[string]any) (telegram.Task, error) {
	msgType := "Message"
	args := map[string]string{}
	if eff.Message != nil {
		if eff.Message.Type != "" {
			msgType = eff.Message.Type
		}
		for k, v := range eff.Message.Args {
			args[k] = v
		}
	}
	if msgType == "Message" && args["text"] == "" {
		args["text"] = config.DefaultMessageText
	}

	rendered, err := render.Message(args, expr.Env{Vars: fields, Funcs: s.funcs})
	if err != nil {
		return telegram.Task{}, err
	}

	return telegram.Task{
		Destination: dest,
		Type:        msgType,
		Args:        rendered,
		Weight:      taskWeight(msgType, rendered),
	}, nil
}

// taskWeight is the pacing cost of the call: batched messages count per item
func taskWeight(msgType string, args map[string]string) int {
	if msgType != "MediaGroup" {
		return 1
	}
	var media []json.RawMessage
	if err := json.Unmarshal([]byte(args["media"]), &media); err != nil || len(media) == 0 {
		return 1
	}
	return len(media)
}
