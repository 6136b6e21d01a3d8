// Package extract turns matched log lines into records and hands them to
// notifiers.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/condition"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/logging"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/notify"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/parser"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/vars"
	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// ErrConfigInvalid is returned for filters that cannot be built
var ErrConfigInvalid = errors.New("invalid filter configuration")

// NotifyRef attaches a notifier to a filter
type NotifyRef struct {
	Name      string           `yaml:"name"`
	Condition []map[string]any `yaml:"condition"`
}

// Config is one filter of a watched file
type Config struct {
	Regex     string               `yaml:"regex"`
	Emit      map[string]string    `yaml:"emit"`
	Transform map[string]Transform `yaml:"transform,omitempty"`
	Notify    []NotifyRef         `yaml:"notify,omitempty"`
}

// Evaluator decides whether a condition tree holds for a record
type Evaluator interface {
	Evaluate(ctx context.Context, rec types.Record, tree condition.Tree) bool
}

// Dispatcher delivers a record to a named notifier
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, rec types.Record, kind string) error
}

// Deps holds the collaborators shared by the extractors of one file
type Deps struct {
	Vars       *vars.Table
	Matcher    Evaluator
	Dispatcher Dispatcher
	Logger     *logging.Logger
	Metrics    *metrics.Collector
}

type emitField struct {
	name      string
	template  *template
	transform Transform
}

type notifyRule struct {
	name string
	tree condition.Tree
}

// Captures are the converted values of one match, keyed by field name
type Captures map[string]any

// Extractor matches lines of one log source
type Extractor struct {
	pattern *parser.Pattern
	emit    []emitField
	notify  []notifyRule

	vars       *vars.Table
	matcher    Evaluator
	dispatcher Dispatcher
	logger     *logging.Logger
	metrics    *metrics.Collector
}

// New compiles a filter. Pattern errors wrap parser.ErrUnknownPatternType
// or parser.ErrMalformedPattern; everything else wraps ErrConfigInvalid.
func New(cfg Config, deps Deps) (*Extractor, error) {
	pattern, err := parser.Compile(cfg.Regex)
	if err != nil {
		return nil, err
	}
	if len(cfg.Emit) == 0 {
		return nil, fmt.Errorf("%w: filter %q emits no fields", ErrConfigInvalid, cfg.Regex)
	}

	e := &Extractor{
		pattern:    pattern,
		vars:       deps.Vars,
		matcher:    deps.Matcher,
		dispatcher: deps.Dispatcher,
		logger:     logging.OrNop(deps.Logger).WithComponent("extract"),
		metrics:    deps.Metrics,
	}
	if e.vars == nil {
		e.vars = vars.Empty()
	}

	names := make([]string, 0, len(cfg.Emit))
	for name := range cfg.Emit {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		tmpl, err := parseTemplate(cfg.Emit[name])
		if err != nil {
			return nil, fmt.Errorf("%w: emit %s: %v", ErrConfigInvalid, name, err)
		}
		for _, ref := range tmpl.fields() {
			if _, ok := pattern.Field(ref); !ok {
				e.logger.Warn().Str("field", name).Str("capture", ref).Msg("Emit template references an unknown capture")
			}
		}
		e.emit = append(e.emit, emitField{name: name, template: tmpl})
	}

	for field, t := range cfg.Transform {
		if !t.valid() {
			return nil, fmt.Errorf("%w: unknown transform %q for %s", ErrConfigInvalid, t, field)
		}
		found := false
		for i := range e.emit {
			if e.emit[i].name == field {
				e.emit[i].transform = t
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: transform for unknown field %s", ErrConfigInvalid, field)
		}
	}

	for _, rule := range cfg.Notify {
		if rule.Name == "" {
			return nil, fmt.Errorf("%w: notify entry without a name", ErrConfigInvalid)
		}
		tree, err := condition.Parse(rule.Condition)
		if err != nil {
			return nil, fmt.Errorf("%w: notify %s: %v", ErrConfigInvalid, rule.Name, err)
		}
		e.notify = append(e.notify, notifyRule{name: rule.Name, tree: tree})
	}
	if len(e.notify) > 0 && (e.matcher == nil || e.dispatcher == nil) {
		return nil, fmt.Errorf("%w: notify needs a matcher and a dispatcher", ErrConfigInvalid)
	}
	return e, nil
}

// Pattern returns the compiled pattern
func (e *Extractor) Pattern() *parser.Pattern {
	return e.pattern
}

// Notifiers returns the names of the attached notifiers
func (e *Extractor) Notifiers() []string {
	out := make([]string, len(e.notify))
	for i, n := range e.notify {
		out[i] = n.name
	}
	return out
}

// Match runs the pattern against line and converts the captures. Captures
// whose conversion fails are left out.
func (e *Extractor) Match(line, source string) (Captures, bool) {
	groups, matched, ok := e.pattern.Match(line)
	if !ok {
		return nil, false
	}

	captures := make(Captures, len(groups))
	for _, f := range e.pattern.Fields() {
		if f.Index >= len(groups) || !matched[f.Index] {
			continue
		}
		v, err := f.Convert(groups[f.Index])
		if err != nil {
			e.metrics.FieldError(source, f.Name)
			e.logger.Info().Err(err).Str("source", source).Str("field", f.Name).Msg("Capture did not convert")
			continue
		}
		captures[f.Name] = v
	}
	return captures, true
}

// Emit renders the output record. A field whose template references a
// missing capture, or whose transform fails, is omitted. The name field is
// always set to source.
func (e *Extractor) Emit(captures Captures, source string) types.Record {
	rec := make(types.Record, len(e.emit)+1)
	for _, f := range e.emit {
		raw, ok := f.template.render(captures, e.vars)
		if !ok {
			continue
		}
		if f.transform == "" {
			rec[f.name] = raw
			continue
		}
		v, err := f.transform.apply(raw)
		if err != nil {
			e.metrics.FieldError(source, f.name)
			e.logger.Info().Err(err).Str("source", source).Str("field", f.name).Msg("Dropped field")
			continue
		}
		rec[f.name] = v
	}
	rec[types.NameField] = source
	e.metrics.Extracted(source)
	return rec
}

// Notify sends rec to every attached notifier whose condition holds, with
// kind as the rate-limit key. Delivery errors are logged, never returned.
func (e *Extractor) Notify(ctx context.Context, rec types.Record, kind string) {
	for _, rule := range e.notify {
		if !e.matcher.Evaluate(ctx, rec, rule.tree) {
			continue
		}
		err := e.dispatcher.Dispatch(ctx, rule.name, rec, kind)
		switch {
		case err == nil:
		case errors.Is(err, notify.ErrRateLimited):
			e.logger.Debug().Str("notifier", rule.name).Str("kind", kind).Msg("Notification rate limited")
		default:
			e.logger.Warn().Err(err).Str("notifier", rule.name).Str("kind", kind).Msg("Can't send notification")
		}
	}
}

// Process matches line and, on a match, returns the emitted record after
// running notifications
func (e *Extractor) Process(ctx context.Context, line, source string) (types.Record, bool) {
	captures, ok := e.Match(line, source)
	if !ok {
		return nil, false
	}
	rec := e.Emit(captures, source)
	e.Notify(ctx, rec, source)
	return rec, true
}
