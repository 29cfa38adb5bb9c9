// Package content implements the content-type and scope algebra used to
// address artifact streams.
package content

import (
	"cmp"
	"slices"
	"strings"
)

// Set is an immutable, sorted, duplicate-free set of ordered values.
// The zero value is the empty set.
type Set[T cmp.Ordered] struct {
	items []T
}

// NewSet builds a set from the given values, dropping duplicates.
func NewSet[T cmp.Ordered](values ...T) Set[T] {
	if len(values) == 0 {
		return Set[T]{}
	}
	items := slices.Clone(values)
	slices.Sort(items)
	return Set[T]{items: slices.Compact(items)}
}

// Len returns the number of members.
func (s Set[T]) Len() int { return len(s.items) }

// IsEmpty reports whether the set has no members.
func (s Set[T]) IsEmpty() bool { return len(s.items) == 0 }

// Items returns a copy of the members in sorted order.
func (s Set[T]) Items() []T { return slices.Clone(s.items) }

// Contains reports whether v is a member.
func (s Set[T]) Contains(v T) bool {
	_, ok := slices.BinarySearch(s.items, v)
	return ok
}

// SubsetOf reports whether every member of s is also in other.
func (s Set[T]) SubsetOf(other Set[T]) bool {
	for _, v := range s.items {
		if !other.Contains(v) {
			return false
		}
	}
	return true
}

// Equal reports set equality.
func (s Set[T]) Equal(other Set[T]) bool {
	return slices.Equal(s.items, other.items)
}

// Overlaps reports whether the two sets share at least one member.
func (s Set[T]) Overlaps(other Set[T]) bool {
	for _, v := range s.items {
		if other.Contains(v) {
			return true
		}
	}
	return false
}

// Union returns s ∪ other.
func (s Set[T]) Union(other Set[T]) Set[T] {
	return NewSet(append(slices.Clone(s.items), other.items...)...)
}

// Intersect returns s ∩ other.
func (s Set[T]) Intersect(other Set[T]) Set[T] {
	var out []T
	for _, v := range s.items {
		if other.Contains(v) {
			out = append(out, v)
		}
	}
	return Set[T]{items: out}
}

// Difference returns s \ other.
func (s Set[T]) Difference(other Set[T]) Set[T] {
	var out []T
	for _, v := range s.items {
		if !other.Contains(v) {
			out = append(out, v)
		}
	}
	return Set[T]{items: out}
}

func formatSet[T cmp.Ordered](s Set[T], name func(T) string) string {
	parts := make([]string, len(s.items))
	for i, v := range s.items {
		parts[i] = name(v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
