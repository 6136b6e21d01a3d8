package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/condition"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/extract"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/notify"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/output"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/parser"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/vars"
	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

const (
	sshPattern = `(%SYSLOG_TIMESTAMP:ts) (%NAME:host) sshd\[(%NUM:pid)\]: Accepted (%WORD:method) for (%NAME:user) from (%IP:ip) port (%NUM:port)`
	sshLine    = `May 10 12:30:01 bastion sshd[4242]: Accepted password for alice from 203.0.113.7 port 51122 ssh2`

	accessPattern = `(%IP:ip) - (%STR:user) (%APACHE_TIMESTAMP:ts) "(%WORD:method) (%STR:path) (%STR:proto)" (%NUM:status) (%NUM:size)`
	accessLine    = `203.0.113.7 - - [10/May/2024:12:30:01 +0000] "GET /index.html HTTP/1.1" 200 5120`
)

// BenchmarkPatternCompile benchmarks placeholder expansion and regex compilation
func BenchmarkPatternCompile(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := parser.Compile(sshPattern); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkPatternMatch benchmarks matching a compiled pattern
func BenchmarkPatternMatch(b *testing.B) {
	tests := []struct {
		name    string
		pattern string
		line    string
	}{
		{"syslog", sshPattern, sshLine},
		{"access", accessPattern, accessLine},
	}
	for _, tt := range tests {
		p := parser.MustCompile(tt.pattern)
		b.Run(tt.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, _, ok := p.Match(tt.line); !ok {
					b.Fatal("no match")
				}
			}
			b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "lines/sec")
		})
	}
}

// BenchmarkExtractorProcess benchmarks match, emit and transform of one line
func BenchmarkExtractorProcess(b *testing.B) {
	e, err := extract.New(extract.Config{
		Regex: sshPattern,
		Emit: map[string]string{
			"timestamp": "{ts}",
			"user":      "{user}",
			"ip":        "{ip}",
			"port":      "{port}",
			"host":      "$hostname",
		},
		Transform: map[string]extract.Transform{
			"timestamp": extract.TransformDate,
			"port":      extract.TransformInt,
		},
	}, extract.Deps{Vars: vars.New("bench")})
	if err != nil {
		b.Fatal(err)
	}

	ctx := context.Background()
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, ok := e.Process(ctx, sshLine, "auth"); !ok {
			b.Fatal("no match")
		}
	}
	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "records/sec")
}

// alwaysNew answers every is-new query with true
type alwaysNew struct{}

func (alwaysNew) IsNew(ctx context.Context, source, field string, value any) (bool, error) {
	return true, nil
}

// BenchmarkConditionEvaluate benchmarks the condition kinds a filter uses most
func BenchmarkConditionEvaluate(b *testing.B) {
	local, err := condition.NewLocalAddresses("198.51.100.0/24")
	if err != nil {
		b.Fatal(err)
	}
	m := condition.NewMatcher(condition.MatcherConfig{Sink: "events", Store: alwaysNew{}, Local: local})
	rec := types.Record{"name": "auth", "ip": "203.0.113.7", "user": "alice", "port": int64(51122)}

	tests := []struct {
		name string
		raw  []map[string]any
	}{
		{"new", []map[string]any{{"ip": "new"}}},
		{"nonlocal", []map[string]any{{"ip": "nonlocal"}}},
		{"compare", []map[string]any{{"port": ">1024"}}},
		{"regex", []map[string]any{{"user": "~^a"}}},
		{"in network", []map[string]any{{"ip": map[string]any{"in": []any{"203.0.113.0/24"}}}}},
	}
	for _, tt := range tests {
		tree := condition.MustParse(tt.raw)
		b.Run(tt.name, func(b *testing.B) {
			ctx := context.Background()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if !m.Evaluate(ctx, rec, tree) {
					b.Fatal("condition does not hold")
				}
			}
		})
	}
}

// BenchmarkRender benchmarks rendering a record for a channel
func BenchmarkRender(b *testing.B) {
	rec := types.Record{"name": "auth", "ip": "203.0.113.7", "user": "alice", "port": int64(51122)}
	for _, format := range []notify.Format{notify.FormatText, notify.FormatJSON} {
		b.Run(string(format), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := notify.Render(rec, format); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkBufferedWrite benchmarks buffering and committing into a memory store
func BenchmarkBufferedWrite(b *testing.B) {
	for _, size := range []int{1, 100, 1000} {
		b.Run(fmt.Sprintf("buffer-%d", size), func(b *testing.B) {
			cfg := output.Config{BaseConfig: output.BaseConfig{Type: "memory", Name: "events", BufferSize: size}}
			sink, err := output.New(cfg, output.Options{})
			if err != nil {
				b.Fatal(err)
			}
			ctx := context.Background()
			if err := sink.Connect(ctx); err != nil {
				b.Fatal(err)
			}
			defer sink.Close(ctx)

			rec := types.Record{"name": "auth", "user": "alice"}
			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if err := sink.Write(ctx, rec); err != nil {
					b.Fatal(err)
				}
			}
			b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "records/sec")
		})
	}
}

// BenchmarkEndToEnd benchmarks a line through extraction, condition and write
func BenchmarkEndToEnd(b *testing.B) {
	cfg := output.Config{BaseConfig: output.BaseConfig{Type: "memory", Name: "events", BufferSize: 100}}
	sink, err := output.New(cfg, output.Options{})
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	if err := sink.Connect(ctx); err != nil {
		b.Fatal(err)
	}
	defer sink.Close(ctx)

	m := condition.NewMatcher(condition.MatcherConfig{Sink: sink.Name(), Store: sink})
	e, err := extract.New(extract.Config{
		Regex: accessPattern,
		Emit:  map[string]string{"ip": "{ip}", "path": "{path}", "status": "{status}"},
		Transform: map[string]extract.Transform{
			"status": extract.TransformInt,
		},
	}, extract.Deps{Vars: vars.New("bench"), Matcher: m})
	if err != nil {
		b.Fatal(err)
	}
	tree := condition.MustParse([]map[string]any{{"status": ">=200"}})

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		rec, ok := e.Process(ctx, accessLine, "web")
		if !ok {
			b.Fatal("no match")
		}
		m.Evaluate(ctx, rec, tree)
		if err := sink.Write(ctx, rec); err != nil {
			b.Fatal(err)
		}
	}
	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "lines/sec")
}
