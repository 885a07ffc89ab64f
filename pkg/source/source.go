// Package source fetches and parses polled documents. Each source type is a
// closed variant (XML, HTML, JSON) behind one capability surface: parse the
// raw bytes into a document, select item nodes, select field values within an
// item. Adding a source type means adding a variant here.
package source

import (
	"fmt"
	"time"
)

// Type is the declared document type of a feed
type Type string

// supported source types
const (
	TypeXML  Type = "XML"
	TypeHTML Type = "HTML"
	TypeJSON Type = "JSON"
)

// Document is a parsed source ready for item selection
type Document interface {
	// Items returns the nodes matched by the item selector, in document order
	Items(selector string) ([]Node, error)
	// RefreshHint reports the refresh interval the document itself
	// advertises, when it does (RSS ttl / update period)
	RefreshHint() (time.Duration, bool)
}

// Node is one selected element; field selectors are resolved relative to it
type Node interface {
	SelectAll(selector string) ([]Node, error)
	Text() string
}

// Parse builds a document of the declared type from raw bytes
func Parse(t Type, raw []byte) (Document, error) {
	switch t {
	case TypeXML:
		return parseXML(raw)
	case TypeHTML:
		return parseHTML(raw)
	case TypeJSON:
		return parseJSON(raw)
	default:
		return nil, fmt.Errorf("unsupported source type %q", t)
	}
}

// FetchError indicates a transport-level failure; the feed is unavailable
// this run and will be retried on the next one.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// ParseError indicates the fetched content is malformed for the declared type
type ParseError struct {
	Type Type
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s document: %v", e.Type, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// CardinalityError reports a field selector that matched an unexpected number
// of nodes. The field is nulled and extraction continues.
type CardinalityError struct {
	Field   string
	Matches int
}

func (e *CardinalityError) Error() string {
	return fmt.Sprintf("field %q matched %d nodes, expected exactly 1", e.Field, e.Matches)
}

// ExtractFields resolves every field selector against the item node. A
// selector matching anything but exactly one node nulls the field and adds a
// CardinalityError to the returned list; extraction always completes.
func ExtractFields(item Node, selectors map[string]string) (map[string]any, []error) {
	fields := make(map[string]any, len(selectors))
	var errs []error
	for name, sel := range selectors {
		nodes, err := item.SelectAll(sel)
		if err != nil || len(nodes) != 1 {
			fields[name] = nil
			errs = append(errs, &CardinalityError{Field: name, Matches: len(nodes)})
			continue
		}
		fields[name] = nodes[0].Text()
	}
	return fields, errs
}
