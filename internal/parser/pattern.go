package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrUnknownPatternType = errors.New("unknown pattern type")
	ErrMalformedPattern   = errors.New("malformed pattern")
	ErrInvalidTimestamp   = errors.New("invalid timestamp")
	ErrInvalidFieldValue  = errors.New("invalid field value")
)

// placeholderMarker opens a typed placeholder: (%TYPE:name:params)
const placeholderMarker = "(%"

// Field describes one typed capture of a compiled pattern
type Field struct {
	Name   string
	Index  int // 0-based capture group index
	Type   string
	Params string

	convert Converter
}

// Convert applies the field's type converter to a raw capture
func (f Field) Convert(raw string) (any, error) {
	if f.convert == nil {
		return raw, nil
	}
	return f.convert(raw)
}

// Pattern is a compiled placeholder pattern
type Pattern struct {
	source string
	regex  string
	fields []Field
	re     *regexp.Regexp
}

// Compile translates a placeholder pattern into a regular expression and a
// field table. Placeholders have the form (%TYPE), (%TYPE:name) or
// (%TYPE:name:params); unnamed placeholders are called __0, __1, ... by
// their position.
func Compile(pattern string) (*Pattern, error) {
	var out strings.Builder
	var fields []Field
	seen := make(map[string]bool)

	for pos := 0; pos < len(pattern); {
		if !strings.HasPrefix(pattern[pos:], placeholderMarker) {
			out.WriteByte(pattern[pos])
			pos++
			continue
		}

		typ, name, params, consumed, err := parsePlaceholder(pattern[pos+len(placeholderMarker):])
		if err != nil {
			return nil, fmt.Errorf("%w at offset %d: %v", ErrMalformedPattern, pos, err)
		}

		def, ok := lookupType(typ)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPatternType, typ)
		}

		position := len(fields)
		if name == "" {
			name = fmt.Sprintf("__%d", position)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate field name %q", ErrMalformedPattern, name)
		}
		seen[name] = true

		// Named groups keep indices right even when literal fragments
		// contain their own capture groups.
		fmt.Fprintf(&out, "(?P<%s>%s)", groupName(position), def.Regex)
		fields = append(fields, Field{
			Name:    name,
			Type:    typ,
			Params:  params,
			convert: def.Convert,
		})

		pos += len(placeholderMarker) + consumed
	}

	regex := out.String()
	re, err := regexp.Compile(regex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPattern, err)
	}

	for i := range fields {
		fields[i].Index = re.SubexpIndex(groupName(i)) - 1
	}

	return &Pattern{
		source: pattern,
		regex:  regex,
		fields: fields,
		re:     re,
	}, nil
}

// MustCompile is like Compile but panics on error
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

func groupName(position int) string {
	return fmt.Sprintf("__ls%d", position)
}

// parsePlaceholder splits "TYPE:name:params)..." into its parts and
// returns how many bytes were consumed including the closing parenthesis.
func parsePlaceholder(s string) (typ, name, params string, consumed int, err error) {
	end := strings.IndexByte(s, ')')
	if end < 0 {
		return "", "", "", 0, errors.New("missing closing parenthesis")
	}

	parts := strings.Split(s[:end], ":")
	if len(parts) > 3 {
		return "", "", "", 0, errors.New("too many colons")
	}

	typ = parts[0]
	if len(parts) > 1 {
		name = parts[1]
	}
	if len(parts) > 2 {
		params = parts[2]
	}
	if typ == "" {
		return "", "", "", 0, errors.New("empty placeholder type")
	}

	return typ, name, params, end + 1, nil
}

// Source returns the original placeholder pattern
func (p *Pattern) Source() string {
	return p.source
}

// Regex returns the translated regular expression
func (p *Pattern) Regex() string {
	return p.regex
}

// Fields returns the field table in placeholder order
func (p *Pattern) Fields() []Field {
	out := make([]Field, len(p.fields))
	copy(out, p.fields)
	return out
}

// Field looks up a field by name
func (p *Pattern) Field(name string) (Field, bool) {
	for _, f := range p.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Match searches line for the pattern. It returns the capture groups,
// with unmatched optional groups reported through the second slice.
func (p *Pattern) Match(line string) (groups []string, matched []bool, ok bool) {
	loc := p.re.FindStringSubmatchIndex(line)
	if loc == nil {
		return nil, nil, false
	}

	n := len(loc)/2 - 1
	groups = make([]string, n)
	matched = make([]bool, n)
	for i := 0; i < n; i++ {
		start, end := loc[2*(i+1)], loc[2*(i+1)+1]
		if start < 0 {
			continue
		}
		groups[i] = line[start:end]
		matched[i] = true
	}
	return groups, matched, true
}
