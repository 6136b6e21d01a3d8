// Package condition parses and evaluates notification condition trees.
//
// A tree is a list of groups combined with OR. A group maps field names to
// clauses and is satisfied when every clause holds. A clause holds when any
// of its values holds for the record's field.
package condition

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

var (
	ErrConfigInvalid         = errors.New("invalid condition")
	ErrUnsupportedComparison = errors.New("unsupported comparison")
)

// Kind tags a clause value
type Kind int

const (
	KindLiteral Kind = iota
	KindNew
	KindLocal
	KindNonLocal
	KindAny
	KindCompare
	KindRegex
	KindIn
)

func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindNew:
		return "new"
	case KindLocal:
		return "local"
	case KindNonLocal:
		return "nonlocal"
	case KindAny:
		return "any"
	case KindCompare:
		return "compare"
	case KindRegex:
		return "regex"
	case KindIn:
		return "in"
	default:
		return "unknown"
	}
}

// Op is a comparison operator
type Op string

const (
	OpEqual        Op = "="
	OpNotEqual     Op = "!"
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
)

// longer operators first so "<=" is not read as "<"
var operators = []Op{OpLessEqual, OpGreaterEqual, OpLess, OpGreater, OpEqual, OpNotEqual}

// Value is one alternative of a clause, decided at parse time
type Value struct {
	Kind Kind

	// Literal and Compare operand text
	Text string
	Op   Op

	number    float64
	numeric   bool
	prefix    netip.Prefix
	hasPrefix bool

	re *regexp.Regexp

	members  map[string]struct{}
	prefixes []netip.Prefix
}

// Clause constrains one record field
type Clause struct {
	Field  string
	Values []Value
}

// Group is an AND of clauses
type Group []Clause

// Tree is an OR of groups
type Tree []Group

// Parse builds a tree from decoded configuration: a list of objects
// mapping field names to a value or a list of values. A value is a string
// ("new", "local", "nonlocal", "all", "any", "<op>operand", "~regex" or a
// literal), a scalar literal, or an object {"in": [...]}.
func Parse(raw []map[string]any) (Tree, error) {
	tree := make(Tree, 0, len(raw))
	for gi, g := range raw {
		fields := make([]string, 0, len(g))
		for field := range g {
			fields = append(fields, field)
		}
		sort.Strings(fields)

		group := make(Group, 0, len(g))
		for _, field := range fields {
			values, err := parseValues(g[field])
			if err != nil {
				return nil, fmt.Errorf("group %d field %q: %w", gi, field, err)
			}
			group = append(group, Clause{Field: field, Values: values})
		}
		tree = append(tree, group)
	}
	return tree, nil
}

// MustParse is like Parse but panics on error
func MustParse(raw []map[string]any) Tree {
	t, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return t
}

func parseValues(raw any) ([]Value, error) {
	list, ok := raw.([]any)
	if !ok {
		if strs, isStrs := raw.([]string); isStrs {
			list = make([]any, len(strs))
			for i, s := range strs {
				list[i] = s
			}
		} else {
			list = []any{raw}
		}
	}

	values := make([]Value, 0, len(list))
	for _, item := range list {
		v, err := parseValue(item)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

func parseValue(raw any) (Value, error) {
	switch v := raw.(type) {
	case string:
		return parseString(v)
	case map[string]any:
		return parseIn(v)
	case nil:
		return Value{}, fmt.Errorf("%w: empty value", ErrConfigInvalid)
	case int, int64, float64, bool:
		return Value{Kind: KindLiteral, Text: types.FormatValue(normalizeNumber(v))}, nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported value %v", ErrConfigInvalid, raw)
	}
}

func normalizeNumber(v any) any {
	if i, ok := v.(int); ok {
		return int64(i)
	}
	return v
}

func parseString(s string) (Value, error) {
	switch strings.ToLower(s) {
	case "new":
		return Value{Kind: KindNew}, nil
	case "local":
		return Value{Kind: KindLocal}, nil
	case "nonlocal":
		return Value{Kind: KindNonLocal}, nil
	case "all", "any":
		return Value{Kind: KindAny}, nil
	}

	if strings.HasPrefix(s, "~") {
		re, err := regexp.Compile(s[1:])
		if err != nil {
			return Value{}, fmt.Errorf("%w: regex %q: %v", ErrConfigInvalid, s[1:], err)
		}
		return Value{Kind: KindRegex, Text: s[1:], re: re}, nil
	}

	for _, op := range operators {
		if strings.HasPrefix(s, string(op)) {
			return newCompare(op, strings.TrimSpace(s[len(op):])), nil
		}
	}

	return Value{Kind: KindLiteral, Text: s}, nil
}

func newCompare(op Op, operand string) Value {
	v := Value{Kind: KindCompare, Op: op, Text: operand}
	if n, err := strconv.ParseFloat(operand, 64); err == nil {
		v.number, v.numeric = n, true
	}
	if p, ok := parsePrefix(operand); ok {
		v.prefix, v.hasPrefix = p, true
	}
	return v
}

func parseIn(m map[string]any) (Value, error) {
	raw, ok := m["in"]
	if !ok || len(m) != 1 {
		return Value{}, fmt.Errorf("%w: object values must be {\"in\": [...]}", ErrConfigInvalid)
	}

	var items []any
	switch list := raw.(type) {
	case []any:
		items = list
	case []string:
		for _, s := range list {
			items = append(items, s)
		}
	default:
		items = []any{raw}
	}

	v := Value{Kind: KindIn, members: make(map[string]struct{}, len(items))}
	for _, item := range items {
		s := types.FormatValue(normalizeNumber(item))
		v.members[s] = struct{}{}
		if strings.Contains(s, "/") {
			if p, err := netip.ParsePrefix(s); err == nil {
				v.prefixes = append(v.prefixes, p.Masked())
			}
		}
	}
	return v, nil
}

// parsePrefix accepts a network or a single address
func parsePrefix(s string) (netip.Prefix, bool) {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p.Masked(), true
	}
	if a, err := netip.ParseAddr(s); err == nil {
		a = a.Unmap()
		return netip.PrefixFrom(a, a.BitLen()), true
	}
	return netip.Prefix{}, false
}

// parseAddr reads a record value as a single address
func parseAddr(v any) (netip.Addr, bool) {
	s, ok := v.(string)
	if !ok {
		return netip.Addr{}, false
	}
	a, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap().WithZone(""), true
}

// NeedsStore reports whether evaluating the tree may query a sink
func (t Tree) NeedsStore() bool {
	for _, g := range t {
		for _, c := range g {
			for _, v := range c.Values {
				if v.Kind == KindNew {
					return true
				}
			}
		}
	}
	return false
}
