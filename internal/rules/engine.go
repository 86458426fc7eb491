// Package rules rewrites recognized speech before it is sent to the
// prompt/response service. Rules come from a plain-text file, one per line.
package rules

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"parley/internal/logging"
)

const defaultPassLimit = 30

// Rule rewrites a transcript and reports whether anything changed.
type Rule interface {
	Apply(input string) (output string, changed bool)
}

// Parser turns one rules-file line into a Rule.
type Parser interface {
	CanParse(line string) bool
	Parse(line string) (Rule, error)
}

// ParseError locates a malformed line.
type ParseError struct {
	Source string
	Line   int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Source, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var errUnsupportedLine = errors.New("unsupported rule format")

// Engine applies rules repeatedly until the transcript stops changing or the
// pass limit is reached, then tidies whitespace left behind by removals.
type Engine struct {
	rules     []Rule
	passLimit int
	log       *slog.Logger
}

// NewEngine loads rules from path. An empty or missing path yields an engine
// that only tidies whitespace.
func NewEngine(path string, passLimit int) (*Engine, error) {
	return NewEngineWithParsers(path, passLimit, DefaultParsers())
}

// NewEngineWithParsers is NewEngine with a custom parser chain; parsers are
// tried in order and the first that accepts a line wins.
func NewEngineWithParsers(path string, passLimit int, parsers []Parser) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return newEngine(nil, passLimit), nil
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newEngine(nil, passLimit), nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}
	defer file.Close()

	return NewEngineFromReader(path, file, passLimit, parsers)
}

// NewEngineFromReader compiles rules read from r; source names r in errors.
func NewEngineFromReader(source string, r io.Reader, passLimit int, parsers []Parser) (*Engine, error) {
	if len(parsers) == 0 {
		parsers = DefaultParsers()
	}
	compiled, err := compile(source, r, parsers)
	if err != nil {
		return nil, err
	}
	engine := newEngine(compiled, passLimit)
	engine.log.Info("transcript rules loaded", "source", source, "rules", len(compiled))
	return engine, nil
}

func newEngine(compiled []Rule, passLimit int) *Engine {
	if passLimit <= 0 {
		passLimit = defaultPassLimit
	}
	return &Engine{rules: compiled, passLimit: passLimit, log: logging.Component("rules")}
}

// Len reports how many rules are loaded.
func (e *Engine) Len() int { return len(e.rules) }

// Apply rewrites text deterministically.
func (e *Engine) Apply(text string) (string, error) {
	result := text
	for pass := 0; pass < e.passLimit && len(e.rules) > 0; pass++ {
		changed := false
		for _, rule := range e.rules {
			if next, ok := rule.Apply(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return tidy(result), nil
}

func compile(source string, r io.Reader, parsers []Parser) ([]Rule, error) {
	var compiled []Rule
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule, err := parseLine(line, parsers)
		if err != nil {
			return nil, &ParseError{Source: source, Line: lineNo, Err: err}
		}
		compiled = append(compiled, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rules from %s: %w", source, err)
	}
	return compiled, nil
}

func parseLine(line string, parsers []Parser) (Rule, error) {
	for _, parser := range parsers {
		if parser.CanParse(line) {
			return parser.Parse(line)
		}
	}
	return nil, errUnsupportedLine
}

// tidy collapses runs of whitespace and strips spaces stranded before
// punctuation, which removals such as filler-word drops leave behind.
func tidy(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for i, field := range fields {
		if i > 0 && !startsWithClosingPunct(field) {
			b.WriteByte(' ')
		}
		b.WriteString(field)
	}
	return b.String()
}

func startsWithClosingPunct(field string) bool {
	switch field[0] {
	case ',', '.', '!', '?', ';', ':':
		return true
	}
	return false
}
