package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/FelisNivalis/telegram-rss-bot/pkg/config"
)

func testConfig(t *testing.T, data string) *config.Config {
	t.Helper()
	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(data), &cfg))
	return &cfg
}

func testScheduler(t *testing.T, data string) *Scheduler {
	t.Helper()
	s := New(Params{Config: testConfig(t, data)})
	require.Empty(t, s.ResolveErrors())
	return s
}

func poolItem(feed string, fields map[string]any) Item {
	link, _ := fields["link"].(string)
	return Item{Feed: feed, Fields: fields, Hash: identityHash(link)}
}

func TestAggregate_SortByKey(t *testing.T) {
	s := testScheduler(t, `
feeds:
  - name: a
    url: https://x/a
  - name: b
    url: https://x/b
groups:
  - name: g
    members: [a, b]
    sort_key_expr: "num(ord)"
    message:
      args:
        text: "{title}"
`)

	newItems := map[string][]Item{
		"a": {
			poolItem("a", map[string]any{"link": "a2", "title": "a-second", "ord": "20"}),
			poolItem("a", map[string]any{"link": "a1", "title": "a-first", "ord": "5"}),
		},
		"b": {
			poolItem("b", map[string]any{"link": "b1", "title": "b-first", "ord": "10"}),
		},
	}

	rep := NewReport(s.now())
	tasks := s.aggregate("42", "g", newItems, rep)

	require.Len(t, tasks, 3)
	assert.Equal(t, "a-first", tasks[0].Args["text"])
	assert.Equal(t, "b-first", tasks[1].Args["text"])
	assert.Equal(t, "a-second", tasks[2].Args["text"])
	assert.Equal(t, 0, rep.ErrorTotal())
}

func TestAggregate_StableOnEqualKeys(t *testing.T) {
	s := testScheduler(t, `
feeds:
  - name: a
    url: https://x/a
groups:
  - name: g
    members: [a]
    message:
      args:
        text: "{title}"
`)

	// default sort key is a constant, pooling order must survive the sort
	newItems := map[string][]Item{
		"a": {
			poolItem("a", map[string]any{"link": "1", "title": "first"}),
			poolItem("a", map[string]any{"link": "2", "title": "second"}),
			poolItem("a", map[string]any{"link": "3", "title": "third"}),
		},
	}

	rep := NewReport(s.now())
	tasks := s.aggregate("42", "g", newItems, rep)

	require.Len(t, tasks, 3)
	assert.Equal(t, "first", tasks[0].Args["text"])
	assert.Equal(t, "second", tasks[1].Args["text"])
	assert.Equal(t, "third", tasks[2].Args["text"])
}

func TestAggregate_DestinationDedup(t *testing.T) {
	s := testScheduler(t, `
feeds:
  - name: mirror1
    url: https://x/1
  - name: mirror2
    url: https://x/2
groups:
  - name: g
    members: [mirror1, mirror2]
    message:
      args:
        text: "{title}"
`)

	// same story reached the destination through both mirrors
	newItems := map[string][]Item{
		"mirror1": {poolItem("mirror1", map[string]any{"link": "https://story/1", "title": "from mirror1"})},
		"mirror2": {poolItem("mirror2", map[string]any{"link": "https://story/1", "title": "from mirror2"})},
	}

	rep := NewReport(s.now())
	tasks := s.aggregate("42", "g", newItems, rep)

	require.Len(t, tasks, 1, "one delivery per identity and destination")
	assert.Equal(t, "from mirror1", tasks[0].Args["text"], "first pooled occurrence wins")
}

func TestAggregate_FieldOverlay(t *testing.T) {
	s := testScheduler(t, `
feeds:
  - name: a
    url: https://x/a
groups:
  - name: g
    members: [a]
    field_overlay:
      title: "upper(title)"
      broken: "nope(title)"
    message:
      args:
        text: "{title}"
`)

	newItems := map[string][]Item{
		"a": {poolItem("a", map[string]any{"link": "1", "title": "plain"})},
	}

	rep := NewReport(s.now())
	tasks := s.aggregate("42", "g", newItems, rep)

	require.Len(t, tasks, 1)
	assert.Equal(t, "PLAIN", tasks[0].Args["text"], "overlay rewrites the field")
	assert.Equal(t, 1, rep.Counters[ErrOverlay], "failed overlay counted, item survives")
}

func TestAggregate_RenderErrors(t *testing.T) {
	t.Run("unsupported parse mode is a config error", func(t *testing.T) {
		s := testScheduler(t, `
feeds:
  - name: a
    url: https://x/a
groups:
  - name: g
    members: [a]
    message:
      args:
        text: "{title}"
        parse_mode: "Markdown3000"
`)
		rep := NewReport(s.now())
		tasks := s.aggregate("42", "g", map[string][]Item{
			"a": {poolItem("a", map[string]any{"link": "1", "title": "t"})},
		}, rep)
		assert.Empty(t, tasks)
		assert.Equal(t, 1, rep.Counters[ErrConfig])
	})

	t.Run("unknown field in template is a render error", func(t *testing.T) {
		s := testScheduler(t, `
feeds:
  - name: a
    url: https://x/a
groups:
  - name: g
    members: [a]
    message:
      args:
        text: "{no_such_field}"
`)
		rep := NewReport(s.now())
		tasks := s.aggregate("42", "g", map[string][]Item{
			"a": {poolItem("a", map[string]any{"link": "1", "title": "t"})},
		}, rep)
		assert.Empty(t, tasks)
		assert.Equal(t, 1, rep.Counters[ErrRender])
	})
}

func TestAggregate_IdentityFailureSkipsItem(t *testing.T) {
	s := testScheduler(t, `
feeds:
  - name: a
    url: https://x/a
groups:
  - name: g
    members: [a]
    id_expr: "guid"
    message:
      args:
        text: "{title}"
`)

	newItems := map[string][]Item{
		"a": {
			poolItem("a", map[string]any{"link": "1", "title": "no guid here"}),
			poolItem("a", map[string]any{"link": "2", "guid": "g2", "title": "has guid"}),
		},
	}

	rep := NewReport(s.now())
	tasks := s.aggregate("42", "g", newItems, rep)

	require.Len(t, tasks, 1)
	assert.Equal(t, "has guid", tasks[0].Args["text"])
	assert.Equal(t, 1, rep.Counters[ErrIdentity])
}

func TestAggregate_UnknownGroup(t *testing.T) {
	s := testScheduler(t, `
feeds:
  - name: a
    url: https://x/a
`)
	rep := NewReport(s.now())
	tasks := s.aggregate("42", "nope", nil, rep)
	assert.Empty(t, tasks)
	assert.Equal(t, 1, rep.Counters[ErrConfig])
}

func TestRenderTask_DefaultMessage(t *testing.T) {
	s := testScheduler(t, `
feeds:
  - name: a
    url: https://x/a
`)

	eff, err := s.resolved.Effective("a", nil)
	require.NoError(t, err)

	task, err := s.renderTask("42", eff, map[string]any{
		"title":       "T",
		"description": "D",
		"pubDate":     "P",
		"link":        "L",
	})
	require.NoError(t, err)
	assert.Equal(t, "Message", task.Type)
	assert.Equal(t, "T\nD\nP\nL", task.Args["text"])
	assert.Equal(t, 1, task.Weight)
}

func TestTaskWeight(t *testing.T) {
	assert.Equal(t, 1, taskWeight("Message", map[string]string{"text": "x"}))
	assert.Equal(t, 1, taskWeight("MediaGroup", map[string]string{"media": "not json"}))
	assert.Equal(t, 3, taskWeight("MediaGroup", map[string]string{
		"media": `[{"type":"photo"},{"type":"photo"},{"type":"video"}]`,
	}))
}
