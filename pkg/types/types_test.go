package types

import (
	"testing"
	"time"
)

func TestFormatValue(t *testing.T) {
	ts := time.Date(2021, 9, 23, 18, 19, 33, 0, time.FixedZone("", 7200))

	tests := []struct {
		in   any
		want string
	}{
		{"alice", "alice"},
		{int64(892), "892"},
		{3.5, "3.5"},
		{true, "true"},
		{ts, "2021-09-23T18:19:33+02:00"},
		{nil, ""},
	}

	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Errorf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRecord(t *testing.T) {
	r := Record{NameField: "auth_ssh", "size": int64(5)}
	if r.Name() != "auth_ssh" {
		t.Errorf("Expected name auth_ssh, got %s", r.Name())
	}

	c := r.Clone()
	c["size"] = int64(6)
	if r["size"] != int64(5) {
		t.Error("Clone shares storage with the original")
	}

	s := r.Strings()
	if s["size"] != "5" {
		t.Errorf("Expected size 5, got %s", s["size"])
	}
}
