// Package expand implements the query expander (§4.8): an enrichment-table
// lookup that turns a user's query into a richer query plus an English-only
// expansion used for the search orchestrator's cross-language hop.
package expand

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/hermesindex/hermesindex/internal/enrichment"
)

const maxTokens = 8

// splitters are the delimiters aka/keywords values are split on. Whitespace
// is deliberately excluded so multi-word titles survive as single tokens.
var splitters = []rune{',', '，', ';', '/', '·', '|', '\n'}

// Result is the expander's output (§4.8 step 4).
type Result struct {
	ExpandedQuery    string
	EnglishExpansion string
}

// Expander runs the enrichment-backed expansion described in §4.8.
type Expander struct {
	store   enrichment.Store
	timeout time.Duration
}

// New builds an Expander. timeout bounds the enrichment table lookup
// (default 1500ms per §6); on timeout or error expansion is silently skipped.
func New(store enrichment.Store, timeout time.Duration) *Expander {
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	return &Expander{store: store, timeout: timeout}
}

// Expand performs steps 1-4 of §4.8. On any lookup failure (including
// timeout), it returns a Result equal to the unexpanded query with no error:
// expansion degrades silently rather than failing the search.
func (e *Expander) Expand(ctx context.Context, q string) Result {
	rows, err := e.store.SearchTitles(ctx, q, e.timeout, 20)
	if err != nil || len(rows) == 0 {
		return Result{ExpandedQuery: q}
	}

	var tokens []string
	for _, row := range rows {
		tokens = append(tokens, splitAll(row.AKA)...)
		tokens = append(tokens, splitAll(row.Keywords)...)
	}

	ranked := rankTokens(tokens)
	if len(ranked) > maxTokens {
		ranked = ranked[:maxTokens]
	}

	expanded := q
	if len(ranked) > 0 {
		expanded = q + " " + strings.Join(ranked, " ")
	}

	asciiTokens := filterASCII(ranked)
	if len(asciiTokens) > 3 {
		asciiTokens = asciiTokens[:3]
	}

	return Result{
		ExpandedQuery:    expanded,
		EnglishExpansion: strings.Join(asciiTokens, " "),
	}
}

// splitAll splits every value in values on the configured delimiters and
// trims whitespace, discarding empty tokens.
func splitAll(values []string) []string {
	var out []string
	for _, v := range values {
		for _, tok := range strings.FieldsFunc(v, isSplitter) {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				out = append(out, tok)
			}
		}
	}
	return out
}

func isSplitter(r rune) bool {
	for _, s := range splitters {
		if r == s {
			return true
		}
	}
	return false
}

// rankTokens orders tokens preferring ASCII tokens of length >= 3 (§4.8 step
// 3), stable otherwise so results are deterministic across runs.
func rankTokens(tokens []string) []string {
	unique := dedupe(tokens)
	sort.SliceStable(unique, func(i, j int) bool {
		return rankOf(unique[i]) > rankOf(unique[j])
	})
	return unique
}

func rankOf(token string) int {
	if isASCII(token) && len(token) >= 3 {
		return 1
	}
	return 0
}

func dedupe(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func filterASCII(tokens []string) []string {
	var out []string
	for _, t := range tokens {
		if isASCII(t) && len(t) >= 3 {
			out = append(out, t)
		}
	}
	return out
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	return true
}
