package domain

import (
	"slices"
	"sort"
)

// ranked is implemented by entities ordered inside a container by a dense
// integer position.
type ranked[T any] interface {
	Key() string
	Rank() int
	WithRank(int) T
}

func (l List) Key() string { return l.ID }
func (l List) Rank() int   { return l.Position }

// WithRank returns a copy of the list at the given position.
func (l List) WithRank(p int) List {
	l.Position = p
	return l
}

func (c Card) Key() string { return c.ID }
func (c Card) Rank() int   { return c.Position }

// WithRank returns a copy of the card at the given position.
func (c Card) WithRank(p int) Card {
	c.Position = p
	return c
}

// SortByPosition returns a copy of seq sorted by position. The sort is
// stable so equal ranks keep their relative order.
func SortByPosition[T ranked[T]](seq []T) []T {
	out := make([]T, len(seq))
	copy(out, seq)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank() < out[j].Rank() })
	return out
}

// Normalize re-assigns dense ranks 0..n-1 in the current order of seq.
func Normalize[T ranked[T]](seq []T) []T {
	out := make([]T, len(seq))
	for i, it := range seq {
		out[i] = it.WithRank(i)
	}
	return out
}

// InsertAt inserts item at index, clamped to [0, len(seq)], and normalizes
// the result.
func InsertAt[T ranked[T]](seq []T, item T, index int) []T {
	if index < 0 {
		index = 0
	}
	if index > len(seq) {
		index = len(seq)
	}
	out := make([]T, len(seq), len(seq)+1)
	copy(out, seq)
	out = slices.Insert(out, index, item)
	return Normalize(out)
}

// RemoveByID removes the entity with the given id, if present, and
// normalizes the remaining items.
func RemoveByID[T ranked[T]](seq []T, id string) []T {
	out := make([]T, 0, len(seq))
	for _, it := range seq {
		if it.Key() == id {
			continue
		}
		out = append(out, it)
	}
	return Normalize(out)
}

// IndexOf returns the index of the entity with the given id, or -1.
func IndexOf[T ranked[T]](seq []T, id string) int {
	for i, it := range seq {
		if it.Key() == id {
			return i
		}
	}
	return -1
}
