package deps_test

import (
	"os"
	"path/filepath"
	"testing"

	"atlas/internal/config"
	"atlas/internal/deps"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []deps.Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  ", Optional: true},
	}

	results := deps.CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected blank detail: %q", results[2].Detail)
	}

	missing := deps.MissingRequired(results)
	if len(missing) != 1 || missing[0].Name != "Missing" {
		t.Fatalf("expected only the required missing binary, got %#v", missing)
	}
}

func TestForConfigMarksWhisperOptionalWithoutAudioSignal(t *testing.T) {
	cfg := config.Default()
	reqs := deps.ForConfig(&cfg)
	var uvx *deps.Requirement
	for i := range reqs {
		if reqs[i].Command == "uvx" {
			uvx = &reqs[i]
		}
	}
	if uvx == nil || !uvx.Optional {
		t.Fatalf("expected optional uvx requirement, got %#v", reqs)
	}

	cfg.AdDetection.Signals = append(cfg.AdDetection.Signals, config.SignalAudio)
	for _, req := range deps.ForConfig(&cfg) {
		if req.Command == "uvx" && req.Optional {
			t.Fatal("audio signal requires uvx")
		}
	}
}
