package sqlite

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/vim89/hybridstore/pkg/core"
)

// queryTerm is one parsed unit of the keyword query syntax: a bare term or a
// quoted phrase, optionally negated (leading '-') or a prefix match
// (trailing '*').
type queryTerm struct {
	text    string
	phrase  bool
	negated bool
	prefix  bool
	// orNext ties this term to the following one with OR instead of the
	// implicit AND.
	orNext bool
}

// compileMatchQuery translates the minimal keyword query syntax (bare terms,
// "quoted phrases", OR, leading '-' negation, trailing '*' prefix) into an
// FTS5 MATCH expression. Terms are always emitted as quoted strings so user
// input can never inject FTS5 operators.
func compileMatchQuery(query string) (string, error) {
	terms, err := parseQueryTerms(query)
	if err != nil {
		return "", err
	}
	if len(terms) == 0 {
		return "", core.ErrEmptyQuery
	}

	var positive []string
	var negative []string
	pendingOr := false
	for _, t := range terms {
		rendered := renderFTSTerm(t)
		if t.negated {
			negative = append(negative, rendered)
			continue
		}
		if pendingOr && len(positive) > 0 {
			positive[len(positive)-1] += " OR " + rendered
		} else {
			positive = append(positive, rendered)
		}
		pendingOr = t.orNext
	}

	if len(positive) == 0 {
		return "", fmt.Errorf("%w: query has only negated terms", core.ErrEmptyQuery)
	}

	expr := "(" + strings.Join(positive, ") AND (") + ")"
	for _, n := range negative {
		expr += " NOT " + n
	}
	return expr, nil
}

func renderFTSTerm(t queryTerm) string {
	quoted := `"` + strings.ReplaceAll(t.text, `"`, `""`) + `"`
	if t.prefix {
		return quoted + " *"
	}
	return quoted
}

func parseQueryTerms(query string) ([]queryTerm, error) {
	var terms []queryTerm
	runes := []rune(query)
	i := 0
	for i < len(runes) {
		if unicode.IsSpace(runes[i]) {
			i++
			continue
		}

		negated := false
		if runes[i] == '-' {
			negated = true
			i++
			if i >= len(runes) || unicode.IsSpace(runes[i]) {
				continue // stray dash
			}
		}

		var t queryTerm
		t.negated = negated
		if runes[i] == '"' {
			i++
			start := i
			for i < len(runes) && runes[i] != '"' {
				i++
			}
			if i >= len(runes) {
				return nil, fmt.Errorf("unterminated quote in query")
			}
			t.text = string(runes[start:i])
			t.phrase = true
			i++ // closing quote
		} else {
			start := i
			for i < len(runes) && !unicode.IsSpace(runes[i]) {
				i++
			}
			t.text = string(runes[start:i])
			if strings.HasSuffix(t.text, "*") {
				t.text = strings.TrimRight(t.text, "*")
				t.prefix = true
			}
		}

		if t.text == "" {
			continue
		}
		// A bare OR joins its neighbors instead of matching literally.
		if !t.phrase && !t.negated && strings.EqualFold(t.text, "OR") {
			if n := len(terms); n > 0 {
				terms[n-1].orNext = true
			}
			continue
		}
		terms = append(terms, t)
	}
	return terms, nil
}
