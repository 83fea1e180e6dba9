package services_test

import (
	"context"
	"testing"

	"atlas/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithContentUID(ctx, "0123456789abcdef0123456789abcdef")
	ctx = services.WithStage(ctx, "download")
	ctx = services.WithRequestID(ctx, "req-123")

	if uid, ok := services.ContentUIDFromContext(ctx); !ok || uid != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("unexpected uid: %v %v", uid, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "download" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.ContentUIDFromContext(services.WithContentUID(ctx, "")); ok {
		t.Fatal("expected no uid value")
	}
}
