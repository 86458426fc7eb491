package usecase

import (
	"strings"

	"parley/internal/domain"
	"parley/internal/ports"
)

type transcriptFinalizer struct {
	rules  ports.RulesEngine
	events ports.EventSink
}

func newTranscriptFinalizer(rules ports.RulesEngine, events ports.EventSink) transcriptFinalizer {
	return transcriptFinalizer{rules: rules, events: events}
}

// Finalize applies the substitution rules to a captured transcript. A rules
// failure is reported and the raw text is used instead.
func (f transcriptFinalizer) Finalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || f.rules == nil {
		f.events.FinalTranscript(raw, raw)
		return raw, nil
	}

	transformed, err := f.rules.Apply(raw)
	if err != nil {
		f.events.SessionError(domain.ErrorCodeRules, err.Error())
		f.events.FinalTranscript(raw, raw)
		return raw, err
	}

	f.events.FinalTranscript(raw, transformed)
	return transformed, nil
}
