package condition

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/logging"
	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// NewChecker answers whether a field value has never been stored for a
// source. Output sinks implement it.
type NewChecker interface {
	IsNew(ctx context.Context, source, field string, value any) (bool, error)
}

// Matcher evaluates condition trees for records bound for one sink
type Matcher struct {
	sink   string
	store  NewChecker
	local  *LocalAddresses
	cache  *SeenCache
	logger *logging.Logger
}

// MatcherConfig holds the collaborators of a Matcher
type MatcherConfig struct {
	// Sink names the output the records are written to; it scopes the cache.
	Sink   string
	Store  NewChecker
	Local  *LocalAddresses
	Cache  *SeenCache
	Logger *logging.Logger
}

// NewMatcher creates a matcher. The cache and local table may be shared
// between matchers.
func NewMatcher(cfg MatcherConfig) *Matcher {
	local := cfg.Local
	if local == nil {
		local = &LocalAddresses{}
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewSeenCache(DefaultCacheSize)
	}
	return &Matcher{
		sink:   cfg.Sink,
		store:  cfg.Store,
		local:  local,
		cache:  cache,
		logger: logging.OrNop(cfg.Logger).WithComponent("condition"),
	}
}

// Evaluate reports whether any group of the tree holds for rec
func (m *Matcher) Evaluate(ctx context.Context, rec types.Record, tree Tree) bool {
	for _, group := range tree {
		if m.evaluateGroup(ctx, rec, group) {
			return true
		}
	}
	return false
}

func (m *Matcher) evaluateGroup(ctx context.Context, rec types.Record, group Group) bool {
	if len(group) == 0 {
		return false
	}
	for _, clause := range group {
		if !m.evaluateClause(ctx, rec, clause) {
			return false
		}
	}
	return true
}

func (m *Matcher) evaluateClause(ctx context.Context, rec types.Record, clause Clause) bool {
	// a field the record lacks fails the clause, whatever its values
	value, ok := rec[clause.Field]
	if !ok {
		return false
	}

	for _, v := range clause.Values {
		ok, err := m.evaluateValue(ctx, rec, clause.Field, value, v)
		if err != nil {
			m.logger.Debug().
				Err(err).
				Str("field", clause.Field).
				Str("kind", v.Kind.String()).
				Msg("Condition value evaluated as false")
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

func (m *Matcher) evaluateValue(ctx context.Context, rec types.Record, field string, value any, v Value) (bool, error) {
	switch v.Kind {
	case KindAny:
		return true, nil
	case KindLiteral:
		return types.FormatValue(value) == v.Text, nil
	case KindNew:
		return m.IsNew(ctx, rec.Name(), field, value), nil
	case KindLocal:
		return m.local.IsLocal(types.FormatValue(value))
	case KindNonLocal:
		local, err := m.local.IsLocal(types.FormatValue(value))
		return !local, err
	case KindCompare:
		return compare(v, value)
	case KindRegex:
		return v.re.MatchString(types.FormatValue(value)), nil
	case KindIn:
		return contains(v, value), nil
	default:
		return false, fmt.Errorf("%w: kind %d", ErrUnsupportedComparison, v.Kind)
	}
}

// IsNew reports whether value has never been stored for source. Negative
// answers are cached; positive ones always go to the store.
func (m *Matcher) IsNew(ctx context.Context, source, field string, value any) bool {
	if m.store == nil {
		return false
	}
	if m.cache.Seen(m.sink, source, field, value) {
		return false
	}

	isNew, err := m.store.IsNew(ctx, source, field, value)
	if err != nil {
		m.logger.Warn().
			Err(err).
			Str("source", source).
			Str("field", field).
			Msg("Failed to check whether value is new")
		return false
	}

	if !isNew {
		m.cache.MarkSeen(m.sink, source, field, value)
	}
	return isNew
}

func compare(v Value, value any) (bool, error) {
	if n, ok := toNumber(value); ok && v.numeric {
		return compareNumbers(v.Op, n, v.number), nil
	}

	if v.hasPrefix {
		if addr, ok := parseAddr(value); ok {
			switch v.Op {
			case OpEqual:
				return v.prefix.Contains(addr), nil
			case OpNotEqual:
				return !v.prefix.Contains(addr), nil
			default:
				return false, fmt.Errorf("%w: %s on addresses", ErrUnsupportedComparison, v.Op)
			}
		}
	}

	return false, fmt.Errorf("%w: %v %s %s", ErrUnsupportedComparison, value, v.Op, v.Text)
}

func compareNumbers(op Op, a, b float64) bool {
	switch op {
	case OpEqual:
		return a == b
	case OpNotEqual:
		return a != b
	case OpLess:
		return a < b
	case OpLessEqual:
		return a <= b
	case OpGreater:
		return a > b
	case OpGreaterEqual:
		return a >= b
	}
	return false
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case float64:
		return v, true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return n, err == nil
	}
	return 0, false
}

func contains(v Value, value any) bool {
	if _, ok := v.members[types.FormatValue(value)]; ok {
		return true
	}
	if len(v.prefixes) == 0 {
		return false
	}
	addr, ok := parseAddr(value)
	if !ok {
		return false
	}
	for _, p := range v.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
