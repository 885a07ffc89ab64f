package source

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/clbanning/mxj/v2"
	rssparser "github.com/mmcdole/gofeed/rss"
)

// treeDocument serves both XML and JSON sources: the raw bytes are decoded
// into a generic map tree and selectors are dotted paths into it.
type treeDocument struct {
	root    mxj.Map
	refresh time.Duration
}

func parseXML(raw []byte) (Document, error) {
	m, err := mxj.NewMapXml(raw)
	if err != nil {
		return nil, &ParseError{Type: TypeXML, Err: err}
	}
	return &treeDocument{root: m, refresh: rssRefreshHint(raw)}, nil
}

func parseJSON(raw []byte) (Document, error) {
	// only a top-level object is selectable
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &ParseError{Type: TypeJSON, Err: fmt.Errorf("document is not a JSON object")}
	}
	m, err := mxj.NewMapJson(raw)
	if err != nil {
		return nil, &ParseError{Type: TypeJSON, Err: err}
	}
	return &treeDocument{root: m}, nil
}

func (d *treeDocument) Items(selector string) ([]Node, error) {
	return selectPath(d.root, selector)
}

func (d *treeDocument) RefreshHint() (time.Duration, bool) {
	return d.refresh, d.refresh > 0
}

// rssRefreshHint reads the ttl an RSS document advertises; zero when the
// document is not RSS or carries no hint
func rssRefreshHint(raw []byte) time.Duration {
	p := &rssparser.Parser{}
	feed, err := p.Parse(bytes.NewReader(raw))
	if err != nil || feed == nil || feed.TTL == "" {
		return 0
	}
	minutes, err := strconv.Atoi(feed.TTL)
	if err != nil || minutes <= 0 {
		return 0
	}
	return time.Duration(minutes) * time.Minute
}

type treeNode struct {
	value any
}

func (n *treeNode) SelectAll(selector string) ([]Node, error) {
	m, ok := asMap(n.value)
	if !ok {
		return nil, nil
	}
	return selectPath(m, selector)
}

// Text renders the node value: scalars directly, elements by their character
// data ("#text" the way the XML decoder stores it)
func (n *treeNode) Text() string {
	switch v := n.value.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		if t, ok := v["#text"]; ok {
			return fmt.Sprint(t)
		}
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func selectPath(m map[string]any, path string) ([]Node, error) {
	values, err := mxj.Map(m).ValuesForPath(path)
	if err != nil {
		return nil, fmt.Errorf("select %q: %w", path, err)
	}
	nodes := make([]Node, 0, len(values))
	for _, v := range values {
		nodes = append(nodes, &treeNode{value: v})
	}
	return nodes, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case mxj.Map:
		return m, true
	default:
		return nil, false
	}
}
