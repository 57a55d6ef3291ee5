package task

import (
	"sort"
	"strings"
)

// Combine unions the three task sources into one newest-first list.
// A record keeps the provenance it was built with.
func Combine(authenticated, guest, sample []Task) []Task {
	out := make([]Task, 0, len(authenticated)+len(guest)+len(sample))
	seen := make(map[string]struct{}, cap(out))
	add := func(ts []Task, p Provenance) {
		for _, t := range ts {
			if _, dup := seen[t.ID]; dup {
				continue
			}
			seen[t.ID] = struct{}{}
			t.Provenance = p
			out = append(out, t)
		}
	}
	add(authenticated, ProvenanceAuthenticated)
	add(guest, ProvenanceGuest)
	add(sample, ProvenanceSample)
	SortNewestFirst(out)
	return out
}

type Filter struct {
	Status     Status
	Sport      string
	Provenance Provenance
}

func (f Filter) match(t Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Sport != "" && !strings.EqualFold(t.Sport, f.Sport) {
		return false
	}
	if f.Provenance != "" && t.Provenance != f.Provenance {
		return false
	}
	return true
}

func FilterTasks(tasks []Task, f Filter) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if f.match(t) {
			out = append(out, t)
		}
	}
	return out
}

// SortNewestFirst orders by creation time. Ties put the user's own tasks
// ahead of guest tasks, and guest tasks ahead of samples.
func SortNewestFirst(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return rank(a.Provenance) < rank(b.Provenance)
	})
}

func rank(p Provenance) int {
	switch p {
	case ProvenanceAuthenticated:
		return 0
	case ProvenanceGuest:
		return 1
	case ProvenanceSample:
		return 2
	}
	return 3
}
