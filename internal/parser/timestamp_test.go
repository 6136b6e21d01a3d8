package parser

import (
	"errors"
	"testing"
	"time"
)

func TestParseApacheTimestamp(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"[23/Sep/2021:18:19:33 +0200]", "2021-09-23T18:19:33+0200", false},
		{"[01/jan/2020:00:00:00 -0530]", "2020-01-01T00:00:00-0530", false},
		{"[05/DEC/2019:23:59:59 +0000]", "2019-12-05T23:59:59+0000", false},
		{"[23/Foo/2021:18:19:33 +0200]", "", true},
		{"[31/Feb/2021:18:19:33 +0200]", "", true},
		{"23/Sep/2021:18:19:33", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseApacheTimestamp(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTimestamp) {
					t.Errorf("Expected ErrInvalidTimestamp, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Failed to parse: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestParseSyslogTimestampAt(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"Sep  3 18:19:33", "2024-09-03T18:19:33+0000", false},
		{"oct 15 01:02:03", "2024-10-15T01:02:03+0000", false},
		{"Foo 15 01:02:03", "", true},
		{"Sep 3", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSyslogTimestampAt(tt.input, now)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTimestamp) {
					t.Errorf("Expected ErrInvalidTimestamp, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Failed to parse: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSyslogUsesZoneOffset(t *testing.T) {
	zone := time.FixedZone("test", 2*3600)
	now := time.Date(2023, time.June, 1, 0, 0, 0, 0, zone)

	got, err := ParseSyslogTimestampAt("Jun  2 10:00:00", now)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if got != "2023-06-02T10:00:00+0200" {
		t.Errorf("Unexpected timestamp %s", got)
	}
}

func TestParseISO8601(t *testing.T) {
	valid := []string{
		"2021-09-23T18:19:33Z",
		"2021-09-23T18:19:33+02:00",
		"2021-09-23T18:19:33.123+02:00",
		"2021-09-23T18:19:33+0200",
		"2021-09-23T18:19:33",
		"2021-09-23",
	}
	for _, s := range valid {
		if _, err := ParseISO8601(s); err != nil {
			t.Errorf("Expected %s to parse: %v", s, err)
		}
	}

	if _, err := ValidateISO8601("not a time"); !errors.Is(err, ErrInvalidTimestamp) {
		t.Errorf("Expected ErrInvalidTimestamp, got %v", err)
	}

	normalized, _ := ParseApacheTimestamp("[23/Sep/2021:18:19:33 +0200]")
	ts, err := ParseISO8601(normalized)
	if err != nil {
		t.Fatalf("Failed to parse normalized timestamp: %v", err)
	}
	if ts.UTC().Hour() != 16 {
		t.Errorf("Expected 16 UTC, got %d", ts.UTC().Hour())
	}
}
