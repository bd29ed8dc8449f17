package services_test

import (
	"context"
	"testing"

	"castindex/internal/services"
)

func TestContextTags(t *testing.T) {
	ctx := services.WithRunID(services.WithStage(services.WithItemID(context.Background(), "ep42"), "transcribe"), "run-1")

	if id, ok := services.ItemIDFromContext(ctx); !ok || id != "ep42" {
		t.Fatalf("unexpected item id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "transcribe" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if run, ok := services.RunIDFromContext(ctx); !ok || run != "run-1" {
		t.Fatalf("unexpected run id: %v %v", run, ok)
	}
}

func TestBlankTagPreservesContext(t *testing.T) {
	ctx := services.WithStage(context.Background(), "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.RunIDFromContext(context.Background()); ok {
		t.Fatal("expected no run id")
	}
}
