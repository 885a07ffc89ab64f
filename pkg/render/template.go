// Package render turns message templates and item fields into outbound call
// arguments, escaped for the destination's markup dialect.
package render

import (
	"fmt"
	"strings"

	"github.com/FelisNivalis/telegram-rss-bot/pkg/expr"
)

// Template is a parsed argument template. Text between braces is an
// expression over the item's fields; "{{" and "}}" emit literal braces; a
// "!n" suffix inside the braces marks the reference no-escape, for values
// that already contain the target dialect's markup.
type Template struct {
	src   string
	parts []part
}

type part struct {
	literal  string
	expr     *expr.Expr
	noEscape bool
}

// ParseTemplate compiles a template string
func ParseTemplate(src string) (*Template, error) {
	t := &Template{src: src}
	var lit strings.Builder
	for i := 0; i < len(src); {
		switch {
		case strings.HasPrefix(src[i:], "{{"):
			lit.WriteByte('{')
			i += 2
		case strings.HasPrefix(src[i:], "}}"):
			lit.WriteByte('}')
			i += 2
		case src[i] == '{':
			end := strings.IndexByte(src[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("template %q: unclosed reference at %d", src, i)
			}
			ref := src[i+1 : i+end]
			i += end + 1

			noEscape := false
			if strings.HasSuffix(ref, "!n") {
				noEscape = true
				ref = strings.TrimSuffix(ref, "!n")
			}
			e, err := expr.Parse(ref)
			if err != nil {
				return nil, fmt.Errorf("template %q: %w", src, err)
			}
			if lit.Len() > 0 {
				t.parts = append(t.parts, part{literal: lit.String()})
				lit.Reset()
			}
			t.parts = append(t.parts, part{expr: e, noEscape: noEscape})
		case src[i] == '}':
			return nil, fmt.Errorf("template %q: stray '}' at %d", src, i)
		default:
			lit.WriteByte(src[i])
			i++
		}
	}
	if lit.Len() > 0 {
		t.parts = append(t.parts, part{literal: lit.String()})
	}
	return t, nil
}

// Render evaluates every reference against the environment and escapes the
// results with the dialect; literal segments pass through untouched.
func (t *Template) Render(env expr.Env, d Dialect) (string, error) {
	var b strings.Builder
	for _, p := range t.parts {
		if p.expr == nil {
			b.WriteString(p.literal)
			continue
		}
		v, err := p.expr.Eval(env)
		if err != nil {
			return "", err
		}
		text := expr.ToString(v)
		if !p.noEscape {
			text, err = Escape(text, d)
			if err != nil {
				return "", err
			}
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// Message renders one message's argument templates. Only the text and
// caption arguments are escaped with the configured dialect (read from the
// parse_mode argument); everything else renders unescaped.
func Message(args map[string]string, env expr.Env) (map[string]string, error) {
	dialect := Dialect(args["parse_mode"])
	// reject unknown dialects before rendering anything
	if _, err := Escape("", dialect); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(args))
	for name, src := range args {
		t, err := ParseTemplate(src)
		if err != nil {
			return nil, err
		}
		d := DialectNone
		if name == "text" || name == "caption" {
			d = dialect
		}
		rendered, err := t.Render(env, d)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", name, err)
		}
		out[name] = rendered
	}
	return out, nil
}
