package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"castindex/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "convert", "ffmpeg", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"convert", "ffmpeg", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestKindMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{services.Wrap(services.ErrData, "annotate", "parse", "bad json", nil), services.KindData},
		{services.Wrap(services.ErrTimeout, "transcribe", "poll", "ceiling reached", nil), services.KindTransient},
		{services.Wrap(services.ErrNotFound, "convert", "locate", "missing raw audio", nil), services.KindNotFound},
		{services.Wrap(services.ErrSetup, "pipeline", "load", "no items", nil), services.KindSetup},
		{fmt.Errorf("outer: %w", services.Wrap(services.ErrConfiguration, "upload", "bucket", "unset", nil)), services.KindConfiguration},
		{errors.New("connection reset"), services.KindTransient},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := services.Kind(tc.err); got != tc.want {
			t.Fatalf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
	if !services.IsTransient(errors.New("eof")) {
		t.Fatal("expected unmarked error to be transient")
	}
	if services.IsTransient(nil) {
		t.Fatal("nil error must not be transient")
	}
}

func TestMessageDropsMarker(t *testing.T) {
	err := services.Wrap(services.ErrData, "annotate", "parse", "bad json", nil)
	if got := services.Message(err); got != "annotate: parse: bad json" {
		t.Fatalf("unexpected message %q", got)
	}
}
