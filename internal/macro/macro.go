// Package macro renders placeholder templates against a nested context.
//
// Placeholders use square brackets: [job/id], [display/elapsed]. Path
// segments may be separated by "/" or "."; both resolve the same way.
// Unresolved paths, and paths that resolve to an empty string, are replaced
// with the caller-supplied fallback rather than being left blank.
package macro

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\[([\w\-]+(?:[./][\w\-]+)*)\]`)

// Transform is applied to each resolved value before insertion. The
// fallback string is inserted verbatim, without transformation.
type Transform func(string) string

// Render substitutes every [path] placeholder in tpl with the value found
// at that path in ctx, or fallback when the path is missing or empty.
//
// ctx may be a map tree (map[string]any / map[string]string) or any
// JSON-marshalable value; non-map contexts are converted once per call.
func Render(tpl string, ctx any, fallback string, transform Transform) string {
	root := normalize(ctx)
	return placeholderRe.ReplaceAllStringFunc(tpl, func(m string) string {
		path := m[1 : len(m)-1]
		v, ok := lookup(root, path)
		if !ok {
			return fallback
		}
		s := stringify(v)
		if s == "" {
			return fallback
		}
		if transform != nil {
			s = transform(s)
		}
		return s
	})
}

func normalize(ctx any) any {
	switch ctx.(type) {
	case map[string]any, map[string]string, nil:
		return ctx
	}
	b, err := json.Marshal(ctx)
	if err != nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	return v
}

func lookup(root any, path string) (any, bool) {
	segs := strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '.' })
	cur := root
	for _, seg := range segs {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			// Structs and other values reach here when nested inside a
			// hand-built map; convert lazily and retry this segment.
			conv := normalize(node)
			m, ok := conv.(map[string]any)
			if !ok {
				return nil, false
			}
			v, ok := m[seg]
			if !ok {
				return nil, false
			}
			cur = v
		}
	}
	return cur, true
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
