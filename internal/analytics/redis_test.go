package analytics

import (
	"testing"
	"time"

	"github.com/djlord-it/easy-batch/internal/domain"
)

func TestBuildKey(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	key := buildKey("4b825dc6", domain.EventJobFailed, at, time.Hour)
	want := "j:4b825dc6:job_failed:2026031409"
	if key != want {
		t.Fatalf("expected %q, got %q", want, key)
	}
}

func TestTruncateToBucket(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	tests := []struct {
		window time.Duration
		want   string
	}{
		{time.Minute, "202603140926"},
		{5 * time.Minute, "202603140925"},
		{time.Hour, "2026031409"},
		{7 * time.Minute, "202603140926"}, // unknown windows fall back to minute buckets
	}
	for _, tt := range tests {
		if got := truncateToBucket(at, tt.window); got != tt.want {
			t.Errorf("window %s: expected %q, got %q", tt.window, tt.want, got)
		}
	}
}

func TestTruncateToBucket_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	at := time.Date(2026, 3, 14, 11, 26, 0, 0, loc) // 09:26 UTC

	if got := truncateToBucket(at, time.Hour); got != "2026031409" {
		t.Fatalf("expected UTC bucket 2026031409, got %q", got)
	}
}
