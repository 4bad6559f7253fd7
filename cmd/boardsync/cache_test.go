package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperengineering/boardsync/internal/writecache"
)

// executeCmd runs rootCmd with captured output.
func executeCmd(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	// Cobra parses into package-level flag variables; reset them between runs.
	cacheDSNOverride = ""
	cacheJSONOutput = false

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(errBuf)
	rootCmd.SetArgs(args)

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)

	return outBuf.String(), errBuf.String(), err
}

func seedCache(t *testing.T, values map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lastState.json")
	cache := writecache.Open(context.Background(), writecache.NewFileBackend(path))
	for id, v := range values {
		if err := cache.Set(context.Background(), id, v); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	return path
}

func TestCacheList_Table(t *testing.T) {
	path := seedCache(t, map[string]string{"222": "0", "111": "15"})

	out, _, err := executeCmd(t, "cache", "list", "--dsn", "file://"+path)
	if err != nil {
		t.Fatalf("cache list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("output lines = %d, want 3:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "ITEM") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "111") || !strings.Contains(lines[1], "15") {
		t.Errorf("first row = %q, want item 111 first", lines[1])
	}
}

func TestCacheList_JSON(t *testing.T) {
	path := seedCache(t, map[string]string{"111": "15"})

	out, _, err := executeCmd(t, "cache", "list", "--json", "--dsn", path)
	if err != nil {
		t.Fatalf("cache list: %v", err)
	}
	var got struct {
		Items []struct {
			ItemID    string `json:"item_id"`
			LastValue string `json:"last_value"`
		} `json:"items"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if got.Total != 1 || got.Items[0].ItemID != "111" || got.Items[0].LastValue != "15" {
		t.Errorf("output = %+v", got)
	}
}

func TestCacheList_Empty(t *testing.T) {
	out, _, err := executeCmd(t, "cache", "list", "--dsn", "memory://")
	if err != nil {
		t.Fatalf("cache list: %v", err)
	}
	if strings.TrimSpace(out) != "No cached items." {
		t.Errorf("output = %q", out)
	}
}

func TestCacheGet(t *testing.T) {
	path := seedCache(t, map[string]string{"111": "15"})

	out, _, err := executeCmd(t, "cache", "get", "111", "--dsn", path)
	if err != nil {
		t.Fatalf("cache get: %v", err)
	}
	if strings.TrimSpace(out) != "15" {
		t.Errorf("output = %q, want 15", out)
	}

	if _, _, err := executeCmd(t, "cache", "get", "999", "--dsn", path); err == nil {
		t.Error("expected error for unknown item")
	}
}

func TestCacheExport(t *testing.T) {
	path := seedCache(t, map[string]string{"111": "15"})

	out, _, err := executeCmd(t, "cache", "export", "--dsn", path)
	if err != nil {
		t.Fatalf("cache export: %v", err)
	}
	var state writecache.State
	if err := json.Unmarshal([]byte(out), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Items["111"].LastValue != "15" {
		t.Errorf("exported state = %+v", state)
	}
}

func TestCache_UnknownScheme(t *testing.T) {
	if _, _, err := executeCmd(t, "cache", "list", "--dsn", "ftp://nowhere"); err == nil {
		t.Error("expected error for unknown DSN scheme")
	}
}

func TestVersion(t *testing.T) {
	out, _, err := executeCmd(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != "boardsync "+Version {
		t.Errorf("output = %q", out)
	}
}
