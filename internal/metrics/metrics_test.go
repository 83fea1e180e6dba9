package metrics_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"atlas/internal/metrics"
	"atlas/internal/services"
)

func TestWriteTextfile(t *testing.T) {
	rec := metrics.New()
	rec.ObserveStage("download", 2*time.Second, nil)
	rec.ObserveStage("cut", time.Second, services.Wrap(services.ErrPermanent, "cut", "ffmpeg", "boom", nil))
	rec.EpisodeFinished("completed")
	rec.AdsRemoved(180)
	rec.Ingested("podcast", "created")
	rec.Discovery("", false)

	path := filepath.Join(t.TempDir(), "textfile", "atlas.prom")
	if err := rec.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	body := string(data)
	for _, want := range []string{
		`atlas_pipeline_stage_total{outcome="ok",stage="download"} 1`,
		`atlas_pipeline_stage_total{outcome="permanent_external",stage="cut"} 1`,
		`atlas_pipeline_episodes_total{status="completed"} 1`,
		`atlas_ads_removed_seconds_total 180`,
		`atlas_ingest_items_total{content_type="podcast",outcome="created"} 1`,
		`atlas_transcript_discovery_total{method="none",outcome="miss"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in textfile:\n%s", want, body)
		}
	}
}

func TestNilRecorderIsInert(t *testing.T) {
	var rec *metrics.Recorder
	rec.ObserveStage("download", time.Second, errors.New("x"))
	rec.EpisodeFinished("error")
	if err := rec.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Fatalf("nil recorder should not write: %v", err)
	}
	if rec.Registry() != nil {
		t.Fatal("nil recorder has no registry")
	}
}

func TestEmptyPathDisablesExport(t *testing.T) {
	if err := metrics.New().WriteTextfile(""); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}
