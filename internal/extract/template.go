package extract

import (
	"fmt"
	"strings"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/vars"
	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// segment is a literal run or, when field is set, a {field} reference
type segment struct {
	literal string
	field   string
}

// template is a parsed emit template. "{name}" is replaced by the value of
// capture name; "{{" and "}}" are literal braces. Format specs such as
// "{size:>5}" or conversions such as "{user!r}" are rejected. Literal text is expanded
// for $variables on every render.
type template struct {
	segments []segment
	hasVars  bool
}

func parseTemplate(s string) (*template, error) {
	t := &template{hasVars: strings.Contains(s, "$")}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '{' && i+1 < len(s) && s[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(s) && s[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(s[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("unclosed '{' at offset %d", i)
			}
			name := s[i+1 : i+1+end]
			if name == "" || strings.ContainsAny(name, "{") {
				return nil, fmt.Errorf("invalid field reference at offset %d", i)
			}
			if strings.ContainsAny(name, ":!") {
				return nil, fmt.Errorf("format spec in field reference %q is not supported", name)
			}
			flush()
			t.segments = append(t.segments, segment{field: name})
			i += end + 1
		case c == '}':
			return nil, fmt.Errorf("single '}' at offset %d", i)
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return t, nil
}

// fields returns the capture names the template references
func (t *template) fields() []string {
	var out []string
	for _, seg := range t.segments {
		if seg.field != "" {
			out = append(out, seg.field)
		}
	}
	return out
}

// render fills the template from values. It reports false when a
// referenced value is missing.
func (t *template) render(values map[string]any, table *vars.Table) (string, bool) {
	var b strings.Builder
	for _, seg := range t.segments {
		if seg.field == "" {
			if t.hasVars && table != nil {
				b.WriteString(table.Expand(seg.literal))
			} else {
				b.WriteString(seg.literal)
			}
			continue
		}
		v, ok := values[seg.field]
		if !ok {
			return "", false
		}
		b.WriteString(types.FormatValue(v))
	}
	return b.String(), true
}
