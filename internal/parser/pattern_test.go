package parser

import (
	"errors"
	"testing"
)

func TestCompile_RoundTrip(t *testing.T) {
	samples := map[string]string{
		"IP":               "10.0.0.5",
		"IP4":              "192.168.1.1",
		"IP6":              "fe80::1",
		"NUM":              "-42",
		"ALNUM":            "abc123",
		"FLOAT":            "3.14",
		"ALPHA":            "abc",
		"STR":              "x/y=z",
		"SPACE":            "   ",
		"NAME":             "my-host_1",
		"VERSION":          "1.2",
		"WORD":             "alice",
		"HEX":              "deadBEEF",
		"TIME":             "18:19:33",
		"AUTH_DATE":        "Sep  3",
		"APACHE_TIMESTAMP": "[23/Sep/2021:18:19:33 +0200]",
		"SYSLOG_TIMESTAMP": "Sep  3 18:19:33",
		"ISOTIME":          "2021-09-23T18:19:33+02:00",
		"DATE":             "2021-09-23",
		"%":                "%",
	}

	for _, typ := range Types() {
		sample, ok := samples[typ]
		if !ok {
			t.Fatalf("No sample for registered type %s", typ)
		}

		t.Run(typ, func(t *testing.T) {
			p, err := Compile("(%" + typ + ":v)")
			if err != nil {
				t.Fatalf("Failed to compile: %v", err)
			}

			groups, matched, ok := p.Match(sample)
			if !ok {
				t.Fatalf("Pattern %q did not match %q", p.Regex(), sample)
			}

			field, ok := p.Field("v")
			if !ok {
				t.Fatal("Field v missing from table")
			}
			if !matched[field.Index] {
				t.Fatal("Field v not captured")
			}
			if groups[field.Index] != sample {
				t.Errorf("Expected capture %q, got %q", sample, groups[field.Index])
			}
			if _, err := field.Convert(groups[field.Index]); err != nil {
				t.Errorf("Converter rejected %q: %v", groups[field.Index], err)
			}
		})
	}
}

func TestCompile_Scenario(t *testing.T) {
	p, err := Compile("auth for (%WORD:user) from (%IP:addr)")
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}

	groups, _, ok := p.Match("auth for alice from 10.0.0.5")
	if !ok {
		t.Fatal("Expected match")
	}

	user, _ := p.Field("user")
	addr, _ := p.Field("addr")
	if user.Index != 0 || addr.Index != 1 {
		t.Fatalf("Expected indices 0 and 1, got %d and %d", user.Index, addr.Index)
	}
	if groups[user.Index] != "alice" {
		t.Errorf("Expected user alice, got %q", groups[user.Index])
	}
	if groups[addr.Index] != "10.0.0.5" {
		t.Errorf("Expected addr 10.0.0.5, got %q", groups[addr.Index])
	}
}

func TestCompile_UnnamedPlaceholders(t *testing.T) {
	p, err := Compile("(%WORD) (%NUM) (%%)")
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}

	fields := p.Fields()
	if len(fields) != 3 {
		t.Fatalf("Expected 3 fields, got %d", len(fields))
	}
	for i, want := range []string{"__0", "__1", "__2"} {
		if fields[i].Name != want {
			t.Errorf("Field %d: expected name %s, got %s", i, want, fields[i].Name)
		}
		if fields[i].Index != i {
			t.Errorf("Field %d: expected index %d, got %d", i, i, fields[i].Index)
		}
	}
}

func TestCompile_LiteralGroupsDoNotShiftFields(t *testing.T) {
	p, err := Compile(`(sshd|login)\[(%NUM:pid)\]: (%WORD:user)`)
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}

	groups, _, ok := p.Match("sshd[42]: bob")
	if !ok {
		t.Fatal("Expected match")
	}

	pid, _ := p.Field("pid")
	user, _ := p.Field("user")
	if groups[pid.Index] != "42" {
		t.Errorf("Expected pid 42, got %q", groups[pid.Index])
	}
	if groups[user.Index] != "bob" {
		t.Errorf("Expected user bob, got %q", groups[user.Index])
	}

	v, err := pid.Convert(groups[pid.Index])
	if err != nil {
		t.Fatalf("Failed to convert pid: %v", err)
	}
	if v != int64(42) {
		t.Errorf("Expected int64 42, got %#v", v)
	}
}

func TestCompile_OptionalGroupUnset(t *testing.T) {
	p, err := Compile(`user (%WORD:user)(?: port (%NUM:port))?`)
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}

	_, matched, ok := p.Match("user carol")
	if !ok {
		t.Fatal("Expected match")
	}
	port, _ := p.Field("port")
	if matched[port.Index] {
		t.Error("Expected port to be unset")
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr error
	}{
		{"unknown type", "(%BOGUS:x)", ErrUnknownPatternType},
		{"missing paren", "(%WORD:x", ErrMalformedPattern},
		{"too many colons", "(%WORD:a:b:c)", ErrMalformedPattern},
		{"empty type", "(%:x)", ErrMalformedPattern},
		{"duplicate name", "(%WORD:x) (%NUM:x)", ErrMalformedPattern},
		{"invalid regex", "([a-(%WORD:x)", ErrMalformedPattern},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.pattern)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCompile_Aliases(t *testing.T) {
	for _, alias := range []string{"IPV4", "IPV6", "INT"} {
		if _, err := Compile("(%" + alias + ":x)"); err != nil {
			t.Errorf("Alias %s: %v", alias, err)
		}
	}
}

func TestMatch_NoMatch(t *testing.T) {
	p := MustCompile("port (%NUM:port)")
	if _, _, ok := p.Match("no numbers here"); ok {
		t.Error("Expected no match")
	}
}
