package amqp

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/soundgraph/enricher/internal/core/domain"
)

func TestClassifyErrorType(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expect domain.ErrorType
	}{
		{"nil error", nil, domain.ErrorTypeGeneral},
		{"spotify message", errors.New("spotify API returned 503"), domain.ErrorTypeSpotify},
		{"musicbrainz message", errors.New("MusicBrainz lookup timed out"), domain.ErrorTypeMusicBrainz},
		{"mbid keyword", errors.New("no MBID for recording"), domain.ErrorTypeMusicBrainz},
		{"lastfm dotted", errors.New("last.fm scrobble fetch failed"), domain.ErrorTypeLastFM},
		{"essentia keyword", errors.New("essentia extractor crashed"), domain.ErrorTypeAudioAnalysis},
		{"bpm keyword", errors.New("BPM detection failed"), domain.ErrorTypeAudioAnalysis},
		{"discogs message", errors.New("Discogs 429"), domain.ErrorTypeDiscogs},
		{"unknown", errors.New("database connection lost"), domain.ErrorTypeGeneral},
		{
			"provider from classified error",
			&domain.ProviderError{Provider: domain.ProviderDiscogs, StatusCode: 500, Err: errors.New("upstream error")},
			domain.ErrorTypeDiscogs,
		},
		{
			"wrapped classified error",
			fmt.Errorf("enrich genre: %w", &domain.ProviderError{Provider: domain.ProviderSpotify, Err: errors.New("timeout")}),
			domain.ErrorTypeSpotify,
		},
	}

	for _, tt := range tests {
		if got := ClassifyErrorType(tt.err); got != tt.expect {
			t.Errorf("ClassifyErrorType(%s) = %v, want %v", tt.name, got, tt.expect)
		}
	}
}

func TestRoutingKey(t *testing.T) {
	if got := RoutingKey(domain.ErrorTypeSpotify); got != "spotify.enrichment.failed" {
		t.Errorf("RoutingKey = %q", got)
	}
	if got := AnalysisQueue(domain.ErrorTypeAudioAnalysis); got != "enrichment.dlq.analysis.audio_analysis" {
		t.Errorf("AnalysisQueue = %q", got)
	}
}

func TestBuildDLQHeaders(t *testing.T) {
	ec := domain.ErrorContext{
		ErrorType:     domain.ErrorTypeLastFM,
		ErrorMessage:  strings.Repeat("m", 600),
		StackTrace:    strings.Repeat("s", 3000),
		Timestamp:     time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
		RetryCount:    3,
		SourceService: "enricher",
	}

	h := BuildDLQHeaders(ec)

	if got, ok := h["x-retry-count"].(int32); !ok || got != 3 {
		t.Errorf("x-retry-count = %v, want int32(3)", h["x-retry-count"])
	}
	if got := h["x-error-type"].(string); got != "lastfm" {
		t.Errorf("x-error-type = %q", got)
	}
	if got := len(h["x-error-message"].(string)); got != maxHeaderMessageLen {
		t.Errorf("x-error-message length = %d, want %d", got, maxHeaderMessageLen)
	}
	if got := len(h["x-stack-trace"].(string)); got != maxHeaderStackLen {
		t.Errorf("x-stack-trace length = %d, want %d", got, maxHeaderStackLen)
	}
	if got := h["x-failed-at"].(string); got != "2026-08-30T10:00:00Z" {
		t.Errorf("x-failed-at = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate passthrough = %q", got)
	}
	if got := Truncate("exactly-10", 10); got != "exactly-10" {
		t.Errorf("Truncate at bound = %q", got)
	}
	if got := Truncate("much too long", 4); got != "much" {
		t.Errorf("Truncate over bound = %q", got)
	}
}
