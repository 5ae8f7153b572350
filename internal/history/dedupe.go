package history

import (
	"slices"
	"strings"
)

// Dedupe keeps one event per title URL; the last occurrence in input order
// wins. Callers must not rely on the output order.
func Dedupe(events []VideoEvent) []VideoEvent {
	index := make(map[string]int, len(events))
	out := make([]VideoEvent, 0, len(events))
	for _, evt := range events {
		url := evt.URL()
		if pos, ok := index[url]; ok {
			out[pos] = evt
			continue
		}
		index[url] = len(out)
		out = append(out, evt)
	}
	return out
}

// SortByTime reduces events to work items ordered by ascending time. The sort
// is stable so equal timestamps keep their relative order.
func SortByTime(events []VideoEvent) []WorkItem {
	items := make([]WorkItem, 0, len(events))
	for _, evt := range events {
		items = append(items, WorkItem{URL: evt.URL(), Time: evt.Time})
	}
	slices.SortStableFunc(items, func(a, b WorkItem) int {
		return strings.Compare(a.Time, b.Time)
	})
	return items
}

// BuildWorkList runs Filter, Dedupe and SortByTime in order.
func BuildWorkList(events []VideoEvent, opts FilterOptions) []WorkItem {
	return SortByTime(Dedupe(Filter(events, opts)))
}
