package usecase

import (
	"strings"
	"sync"

	"parley/internal/domain"
	"parley/internal/ports"
)

type transcriptAggregator struct {
	mu         sync.Mutex
	finals     []string
	lastSpoken string
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{}
}

func (a *transcriptAggregator) Add(event domain.TranscriptEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := strings.TrimSpace(event.Text)
	if text == "" {
		return
	}
	if event.Kind == domain.TranscriptKindFinal {
		a.finals = append(a.finals, text)
		a.lastSpoken = ""
		return
	}
	a.lastSpoken = text
}

// Seal promotes a trailing partial to a final. A restart calls it so the
// ended stream's interim text is kept ahead of the next stream's finals.
func (a *transcriptAggregator) Seal() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastSpoken != "" {
		a.finals = append(a.finals, a.lastSpoken)
		a.lastSpoken = ""
	}
}

func (a *transcriptAggregator) Raw() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	joined := strings.TrimSpace(strings.Join(a.finals, " "))
	if joined == "" {
		return a.lastSpoken
	}

	if a.lastSpoken == "" {
		return joined
	}

	if strings.HasSuffix(joined, a.lastSpoken) {
		return joined
	}

	return strings.TrimSpace(joined + " " + a.lastSpoken)
}

func consumeTranscriptionEvents(
	session *recognitionSession,
	stream ports.StreamingSession,
	gen int,
	events ports.EventSink,
) {
	for event := range stream.Events() {
		text := strings.TrimSpace(event.Text)
		if text == "" {
			continue
		}
		if !session.accepts(gen) {
			continue
		}
		session.aggregator.Add(event)
		if event.Kind == domain.TranscriptKindPartial {
			events.PartialTranscript(text)
		}
	}
}
