package usecase

import (
	"testing"

	"parley/internal/domain"
)

func TestTranscriptAggregatorJoinsFinalsAndTrailingPartial(t *testing.T) {
	t.Parallel()

	agg := newTranscriptAggregator()
	agg.Add(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "hello"})
	agg.Add(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "hello world"})
	agg.Add(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "again"})

	got := agg.Raw()
	if got != "hello world again" {
		t.Fatalf("unexpected transcript: %q", got)
	}
}

func TestTranscriptAggregatorIgnoresEmpty(t *testing.T) {
	t.Parallel()

	agg := newTranscriptAggregator()
	agg.Add(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "   "})
	if got := agg.Raw(); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestTranscriptAggregatorSealKeepsPartialAcrossRestart(t *testing.T) {
	t.Parallel()

	agg := newTranscriptAggregator()
	agg.Add(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "first"})
	agg.Add(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "second"})
	agg.Seal()
	agg.Add(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "third"})

	if got := agg.Raw(); got != "first second third" {
		t.Fatalf("unexpected transcript: %q", got)
	}
}
