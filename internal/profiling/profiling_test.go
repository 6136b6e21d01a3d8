package profiling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestNew_DefaultAddress(t *testing.T) {
	if p := New(Config{Enabled: true}, nil); p.Address() != DefaultAddress {
		t.Errorf("Expected %s, got %s", DefaultAddress, p.Address())
	}
	if p := New(Config{Address: "127.0.0.1:7070"}, nil); p.Address() != "127.0.0.1:7070" {
		t.Errorf("Expected the configured address, got %s", p.Address())
	}
}

func TestStatsHandler(t *testing.T) {
	p := New(Config{Enabled: true}, nil)
	p.Stats = func() map[string]any {
		return map[string]any{"files": []string{"/var/log/auth.log"}}
	}
	p.Start()
	defer p.Stop()

	mux := http.NewServeMux()
	p.Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/stats")
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Runtime RuntimeStats `json:"runtime"`
		Files   []string     `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	if body.Runtime.Goroutines == 0 || body.Runtime.Uptime == "" {
		t.Errorf("Unexpected runtime stats %+v", body.Runtime)
	}
	if len(body.Files) != 1 {
		t.Errorf("Expected the collector stats, got %v", body.Files)
	}

	resp, err = http.Get(srv.URL + "/debug/pprof/")
	if err != nil {
		t.Fatalf("Failed to get pprof index: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from the pprof index, got %d", resp.StatusCode)
	}
}

func TestStop_WritesMemProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.pprof")
	p := New(Config{Enabled: true, MemProfilePath: path, BlockProfile: true}, nil)
	p.Start()
	if err := p.Stop(); err != nil {
		t.Fatalf("Failed to stop: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Expected a heap profile: %v", err)
	}
	if info.Size() == 0 {
		t.Error("Expected a non-empty heap profile")
	}
}
