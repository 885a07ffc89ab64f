package expr

import (
	"fmt"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/microcosm-cc/bluemonday"
)

// stripPolicy removes all markup, leaving text content only
var stripPolicy = bluemonday.StrictPolicy()

// DefaultFuncs returns the standard allow-listed function table. Callers may
// copy and extend it; expressions can call nothing outside the table they get.
func DefaultFuncs() map[string]Func {
	return map[string]Func{
		"lower": func(args []any) (any, error) {
			s, err := oneString(args)
			if err != nil {
				return nil, err
			}
			return strings.ToLower(s), nil
		},
		"upper": func(args []any) (any, error) {
			s, err := oneString(args)
			if err != nil {
				return nil, err
			}
			return strings.ToUpper(s), nil
		},
		"trim": func(args []any) (any, error) {
			s, err := oneString(args)
			if err != nil {
				return nil, err
			}
			return strings.TrimSpace(s), nil
		},
		"len": func(args []any) (any, error) {
			s, err := oneString(args)
			if err != nil {
				return nil, err
			}
			return float64(len([]rune(s))), nil
		},
		"contains": func(args []any) (any, error) {
			if err := arity(args, 2); err != nil {
				return nil, err
			}
			return strings.Contains(ToString(args[0]), ToString(args[1])), nil
		},
		"replace": func(args []any) (any, error) {
			if err := arity(args, 3); err != nil {
				return nil, err
			}
			return strings.ReplaceAll(ToString(args[0]), ToString(args[1]), ToString(args[2])), nil
		},
		"substr": func(args []any) (any, error) {
			if err := arity(args, 3); err != nil {
				return nil, err
			}
			runes := []rune(ToString(args[0]))
			start, sok := toNumber(args[1])
			end, eok := toNumber(args[2])
			if !sok || !eok {
				return nil, fmt.Errorf("bounds must be numeric")
			}
			s, e := clamp(int(start), len(runes)), clamp(int(end), len(runes))
			if s > e {
				return "", nil
			}
			return string(runes[s:e]), nil
		},
		// coalesce returns the first non-empty argument
		"coalesce": func(args []any) (any, error) {
			for _, a := range args {
				if ToString(a) != "" {
					return a, nil
				}
			}
			return "", nil
		},
		"str": func(args []any) (any, error) {
			if err := arity(args, 1); err != nil {
				return nil, err
			}
			return ToString(args[0]), nil
		},
		"num": func(args []any) (any, error) {
			if err := arity(args, 1); err != nil {
				return nil, err
			}
			f, ok := toNumber(args[0])
			if !ok {
				return nil, fmt.Errorf("cannot convert %q to number", ToString(args[0]))
			}
			return f, nil
		},
		// timestamp parses almost any date representation into unix seconds,
		// the usual sort key for pubDate-style fields
		"timestamp": func(args []any) (any, error) {
			s, err := oneString(args)
			if err != nil {
				return nil, err
			}
			t, err := dateparse.ParseAny(strings.TrimSpace(s))
			if err != nil {
				return nil, fmt.Errorf("parse date %q: %w", s, err)
			}
			return float64(t.Unix()), nil
		},
		// strip_html drops markup from extracted fields, useful before
		// re-escaping a description for a different dialect
		"strip_html": func(args []any) (any, error) {
			s, err := oneString(args)
			if err != nil {
				return nil, err
			}
			return stripPolicy.Sanitize(s), nil
		},
	}
}

func arity(args []any, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}
	return nil
}

func oneString(args []any) (string, error) {
	if err := arity(args, 1); err != nil {
		return "", err
	}
	return ToString(args[0]), nil
}

func clamp(i, max int) int {
	if i < 0 {
		i += max
		if i < 0 {
			i = 0
		}
	}
	if i > max {
		return max
	}
	return i
}
