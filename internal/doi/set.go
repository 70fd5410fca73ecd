package doi

import "sort"

// Set is an unordered collection of DOIs. The zero value is not usable;
// create sets with NewSet.
//
// Set is not safe for concurrent mutation. Callers that share a set across
// goroutines guard it themselves.
type Set map[DOI]struct{}

// NewSet returns a set holding ids.
func NewSet(ids ...DOI) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id. Adding an existing member is a no-op.
func (s Set) Add(id DOI) {
	s[id] = struct{}{}
}

// Remove deletes id. Removing a non-member is a no-op.
func (s Set) Remove(id DOI) {
	delete(s, id)
}

// Has reports membership.
func (s Set) Has(id DOI) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of members.
func (s Set) Len() int {
	return len(s)
}

// Difference returns the members of s not in other (s − other).
func (s Set) Difference(other Set) Set {
	out := make(Set)
	for id := range s {
		if !other.Has(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// Union returns a new set with the members of both.
func (s Set) Union(other Set) Set {
	out := s.Clone()
	for id := range other {
		out[id] = struct{}{}
	}
	return out
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Equal reports whether both sets hold the same members.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []DOI {
	out := make([]DOI, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted members as plain strings.
func (s Set) Strings() []string {
	ids := s.Sorted()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
