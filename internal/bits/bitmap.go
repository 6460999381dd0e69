// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package bits adapts the teacher's utils.BitMap/utils.Set into the
// generic bitmap and insertion-ordered set helpers; the SSA liveness pass
// (spec.md §4.2) keeps its per-block sets in Set.
package bits

import "golang.org/x/exp/constraints"

// Map is a dense bitmap, adapted from the teacher's utils.BitMap.
type Map struct {
	data []uint8
	size int
}

func NewMap(size int) *Map {
	return &Map{data: make([]uint8, (size+7)/8), size: size}
}

func (b *Map) Set(i int) {
	b.data[i/8] |= 1 << uint(i%8)
}

func (b *Map) Reset(i int) {
	b.data[i/8] &^= 1 << uint(i%8)
}

func (b *Map) IsSet(i int) bool {
	return b.data[i/8]&(1<<uint(i%8)) != 0
}

// Unite ORs other into b in place and reports whether b changed.
func (b *Map) Unite(other *Map) bool {
	changed := false
	for i := range b.data {
		merged := b.data[i] | other.data[i]
		if merged != b.data[i] {
			changed = true
			b.data[i] = merged
		}
	}
	return changed
}

func (b *Map) Intersect(other *Map) {
	for i := range b.data {
		b.data[i] &= other.data[i]
	}
}

func (b *Map) Copy() *Map {
	out := NewMap(b.size)
	copy(out.data, b.data)
	return out
}

func (b *Map) Size() int { return b.size }

// Set[T] is the generic insertion-ordered set used where deterministic
// iteration order matters (spec.md §5: "iteration over sets must be
// performed through seeded insertion-ordered collections").
type Set[T comparable] struct {
	index map[T]int
	order []T
}

func NewSet[T comparable]() *Set[T] {
	return &Set[T]{index: make(map[T]int)}
}

func (s *Set[T]) Add(v T) bool {
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = len(s.order)
	s.order = append(s.order, v)
	return true
}

func (s *Set[T]) Contains(v T) bool {
	_, ok := s.index[v]
	return ok
}

func (s *Set[T]) Remove(v T) {
	i, ok := s.index[v]
	if !ok {
		return
	}
	delete(s.index, v)
	s.order = append(s.order[:i], s.order[i+1:]...)
	for j := i; j < len(s.order); j++ {
		s.index[s.order[j]] = j
	}
}

func (s *Set[T]) Items() []T { return s.order }

func (s *Set[T]) Len() int { return len(s.order) }

// InsertAt inserts v into slice at index i, as the teacher's slice_helper
// does.
func InsertAt[T any](slice []T, i int, v T) []T {
	slice = append(slice, v)
	copy(slice[i+1:], slice[i:])
	slice[i] = v
	return slice
}

// Clamp bounds v to the closed range [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
