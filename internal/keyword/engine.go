// Package keyword decides match/no-match for message text against the
// configured positive and negative term sets. Terms are re-read through
// a short-TTL cache so owner edits take effect on the next message
// without restart.
package keyword

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/propsift/propsift/internal/store"
)

// Engine evaluates message text against the keyword store.
type Engine struct {
	keywords store.KeywordStore

	mu       sync.Mutex
	ttl      time.Duration
	required []string // categories that must all hit; empty = any
	snapshot *termSet
	fetched  time.Time

	now func() time.Time
}

type termSet struct {
	positive map[string][]string // category → normalized terms
	negative []string            // veto terms, category-agnostic
}

// NewEngine creates an engine reading terms from the given store.
func NewEngine(keywords store.KeywordStore, ttl time.Duration, requiredCategories []string) *Engine {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Engine{
		keywords: keywords,
		ttl:      ttl,
		required: requiredCategories,
		now:      time.Now,
	}
}

// Normalize lowercases and collapses whitespace. Terms are stored and
// message text is compared in this form.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Matches reports whether text matches the current term configuration:
// at least one positive term is a substring (one per required category
// when categories are configured) and no negative term is a substring.
// The negative veto is absolute: a term configured as both positive and
// negative vetoes.
func (e *Engine) Matches(ctx context.Context, text string) (bool, error) {
	norm := Normalize(text)
	if norm == "" {
		return false, nil
	}

	terms, required, err := e.currentTerms(ctx)
	if err != nil {
		return false, err
	}

	for _, t := range terms.negative {
		if strings.Contains(norm, t) {
			return false, nil
		}
	}

	if len(required) > 0 {
		for _, cat := range required {
			if !anyContains(norm, terms.positive[cat]) {
				return false, nil
			}
		}
		return true, nil
	}

	for _, ts := range terms.positive {
		if anyContains(norm, ts) {
			return true, nil
		}
	}
	return false, nil
}

func anyContains(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

func (e *Engine) currentTerms(ctx context.Context) (*termSet, []string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.snapshot != nil && e.now().Sub(e.fetched) < e.ttl {
		return e.snapshot, e.required, nil
	}

	pos, err := e.keywords.KeywordsByPolarity(ctx, store.Positive)
	if err != nil {
		return nil, nil, fmt.Errorf("load positive terms: %w", err)
	}
	neg, err := e.keywords.KeywordsByPolarity(ctx, store.Negative)
	if err != nil {
		return nil, nil, fmt.Errorf("load negative terms: %w", err)
	}

	ts := &termSet{positive: make(map[string][]string)}
	for _, kw := range pos {
		cat := kw.Category
		if cat == "" {
			cat = store.DefaultCategory
		}
		ts.positive[cat] = append(ts.positive[cat], Normalize(kw.Term))
	}
	for _, kw := range neg {
		ts.negative = append(ts.negative, Normalize(kw.Term))
	}

	e.snapshot = ts
	e.fetched = e.now()
	return ts, e.required, nil
}

// Invalidate drops the cached snapshot so the next evaluation re-reads
// the store. Cross-process term edits are picked up by TTL expiry
// instead; this is for callers that mutate the store in-process.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot = nil
}

// Reconfigure swaps the TTL and required categories, used by config hot
// reload.
func (e *Engine) Reconfigure(ttl time.Duration, requiredCategories []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ttl > 0 {
		e.ttl = ttl
	}
	e.required = requiredCategories
	e.snapshot = nil
}
