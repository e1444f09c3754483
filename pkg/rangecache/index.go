package rangecache

import (
	"sort"
	"time"
)

// Span is an inclusive integer interval.
type Span struct {
	Start int
	End   int
}

// Overlaps reports whether s and o share at least one position. Both bounds
// are inclusive.
func (s Span) Overlaps(o Span) bool {
	return s.Start <= o.End && o.Start <= s.End
}

type entry[T any] struct {
	span   Span
	record T
}

type group[T any] struct {
	all []T
	// positioned holds the records with a known span, sorted by span start.
	positioned []entry[T]
}

// index is an immutable snapshot of the loaded dataset.
type index[T any] struct {
	groups   map[string]*group[T]
	size     int
	loadedAt time.Time
}

func buildIndex[T any](records []T, ex Extractor[T], now time.Time) *index[T] {
	idx := &index[T]{
		groups:   make(map[string]*group[T]),
		size:     len(records),
		loadedAt: now,
	}
	for _, r := range records {
		key := ex.Key(r)
		g, ok := idx.groups[key]
		if !ok {
			g = &group[T]{}
			idx.groups[key] = g
		}
		g.all = append(g.all, r)
		if span, ok := ex.Span(r); ok {
			if span.End < span.Start {
				span.Start, span.End = span.End, span.Start
			}
			g.positioned = append(g.positioned, entry[T]{span: span, record: r})
		}
	}
	for _, g := range idx.groups {
		sort.SliceStable(g.positioned, func(i, j int) bool {
			return g.positioned[i].span.Start < g.positioned[j].span.Start
		})
	}
	return idx
}

func (idx *index[T]) lookup(key string) []T {
	g, ok := idx.groups[key]
	if !ok {
		return []T{}
	}
	return append([]T(nil), g.all...)
}

func (idx *index[T]) query(key string, window Span) []T {
	out := []T{}
	g, ok := idx.groups[key]
	if !ok {
		return out
	}
	// Entries at or beyond hi start after the window and cannot overlap it.
	hi := sort.Search(len(g.positioned), func(i int) bool {
		return g.positioned[i].span.Start > window.End
	})
	for _, e := range g.positioned[:hi] {
		if e.span.Overlaps(window) {
			out = append(out, e.record)
		}
	}
	return out
}

func (idx *index[T]) keys() int {
	return len(idx.groups)
}
