package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultParsers understands, in order:
//
//	drop: um, uh, you know      remove filler words and phrases
//	s/pattern/replacement/flags sed-style regex (case-insensitive by default)
//	from => to                  case-insensitive literal substitution
func DefaultParsers() []Parser {
	return []Parser{DropParser{}, RegexParser{}, LiteralParser{}}
}

type LiteralParser struct{}

func (LiteralParser) CanParse(line string) bool { return strings.Contains(line, "=>") }

func (LiteralParser) Parse(line string) (Rule, error) {
	from, to, _ := strings.Cut(line, "=>")
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}
	return patternRule{re: regexp.MustCompile("(?i)" + regexp.QuoteMeta(from)), replacement: to, global: true}, nil
}

type DropParser struct{}

func (DropParser) CanParse(line string) bool { return strings.HasPrefix(line, "drop:") }

// Parse builds one word-bounded alternation from the comma-separated list,
// also consuming a trailing comma so "um, I think" becomes "I think".
func (DropParser) Parse(line string) (Rule, error) {
	var words []string
	for _, word := range strings.Split(strings.TrimPrefix(line, "drop:"), ",") {
		if word = strings.TrimSpace(word); word != "" {
			words = append(words, regexp.QuoteMeta(word))
		}
	}
	if len(words) == 0 {
		return nil, errors.New("drop rule needs at least one word")
	}
	re := regexp.MustCompile(`(?i)\b(?:` + strings.Join(words, "|") + `)\b,?`)
	return patternRule{re: re, global: true}, nil
}

type RegexParser struct{}

func (RegexParser) CanParse(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordOrSpace(line[1])
}

func (RegexParser) Parse(line string) (Rule, error) {
	if len(line) < 2 {
		return nil, errors.New("invalid regex rule")
	}
	delim := line[1]
	if isWordOrSpace(delim) {
		return nil, errors.New("regex delimiter must be non-alphanumeric")
	}

	pattern, pos, err := readDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := readDelimited(line, pos, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	global := false
	inline := "i"
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i', ' ':
		case 'g':
			global = true
		case 'm', 's':
			inline += string(flag)
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + inline + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return patternRule{re: re, replacement: replacement, global: global}, nil
}

// patternRule replaces every match when global, otherwise only the first.
type patternRule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func (r patternRule) Apply(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	expanded := r.re.ExpandString(nil, r.replacement, input, loc)
	output := input[:loc[0]] + string(expanded) + input[loc[1]:]
	return output, output != input
}

// readDelimited reads up to the next unescaped delim, keeping escapes for
// the regexp compiler.
func readDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var b strings.Builder
	for i := start; i < len(line); i++ {
		switch c := line[i]; {
		case c == '\\' && i+1 < len(line):
			b.WriteByte(c)
			b.WriteByte(line[i+1])
			i++
		case c == delim:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, errors.New("unterminated expression")
}

func isWordOrSpace(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == ' ' || c == '\t'
}
