package checkpoint

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "positions.json")

	mgr1, err := NewManager(path)
	if err != nil {
		t.Fatalf("Failed to create checkpoint manager: %v", err)
	}
	positions := []types.FilePosition{
		{Path: "/var/log/syslog", Pos: 2000, Inode: 456, Device: 2049},
		{Path: "/var/log/auth.log", Pos: 1000, Inode: 123, Device: 2049},
	}
	if err := mgr1.Save(positions); err != nil {
		t.Fatalf("Failed to save state: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read state file: %v", err)
	}
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Failed to decode state file: %v", err)
	}
	if len(raw) != 2 || raw[0]["path"] != "/var/log/auth.log" || raw[0]["pos"] != float64(1000) {
		t.Errorf("Unexpected state file contents %s", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temporary file left behind")
	}

	mgr2, err := NewManager(path)
	if err != nil {
		t.Fatalf("Failed to create second checkpoint manager: %v", err)
	}
	if err := mgr2.Load(); err != nil {
		t.Fatalf("Failed to load state: %v", err)
	}
	pos, ok := mgr2.Position("/var/log/syslog")
	if !ok {
		t.Fatal("Position not found")
	}
	if pos != positions[0] {
		t.Errorf("Expected %+v, got %+v", positions[0], pos)
	}
	if mgr2.Len() != 2 {
		t.Errorf("Expected 2 positions, got %d", mgr2.Len())
	}
}

func TestLoad_Fallbacks(t *testing.T) {
	tests := []struct {
		name      string
		content   *string
		malformed bool
		want      int
	}{
		{name: "missing file"},
		{name: "malformed", content: strPtr("{not json"), malformed: true},
		{name: "object instead of array", content: strPtr(`{"pos": 1}`), malformed: true},
		{name: "invalid entries skipped", content: strPtr(`[{"pos": 5, "path": ""}, {"pos": -1, "path": "/a"}, {"pos": 7, "path": "/b"}]`), want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "positions.json")
			if tt.content != nil {
				if err := os.WriteFile(path, []byte(*tt.content), 0644); err != nil {
					t.Fatalf("Failed to write state file: %v", err)
				}
			}
			mgr, err := NewManager(path)
			if err != nil {
				t.Fatalf("Failed to create checkpoint manager: %v", err)
			}

			err = mgr.Load()
			if tt.malformed {
				if !errors.Is(err, ErrMalformed) {
					t.Errorf("Expected ErrMalformed, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("Failed to load state: %v", err)
			}
			if mgr.Len() != tt.want {
				t.Errorf("Expected %d positions, got %d", tt.want, mgr.Len())
			}
		})
	}
}

func TestSave_ReplacesState(t *testing.T) {
	mgr, err := NewManager(filepath.Join(t.TempDir(), "positions.json"))
	if err != nil {
		t.Fatalf("Failed to create checkpoint manager: %v", err)
	}
	if err := mgr.Save([]types.FilePosition{{Path: "/a", Pos: 1}}); err != nil {
		t.Fatalf("Failed to save state: %v", err)
	}
	if err := mgr.Save([]types.FilePosition{{Path: "/b", Pos: 2}}); err != nil {
		t.Fatalf("Failed to save state: %v", err)
	}
	if _, ok := mgr.Position("/a"); ok {
		t.Error("Expected /a to be gone after the second save")
	}
}

func strPtr(s string) *string { return &s }
