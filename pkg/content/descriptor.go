package content

import "errors"

var (
	// ErrEmptyTypes is returned when a descriptor is built without content types.
	ErrEmptyTypes = errors.New("content descriptor requires at least one content type")
	// ErrEmptyScopes is returned when a descriptor is built without scopes.
	ErrEmptyScopes = errors.New("content descriptor requires at least one scope")
)

// Descriptor tags a bundle of artifacts with the content types it holds and
// the scopes it comes from. A valid descriptor has both sets non-empty.
type Descriptor struct {
	types  TypeSet
	scopes ScopeSet
}

// NewDescriptor validates and builds a descriptor.
func NewDescriptor(types TypeSet, scopes ScopeSet) (Descriptor, error) {
	if types.IsEmpty() {
		return Descriptor{}, ErrEmptyTypes
	}
	if scopes.IsEmpty() {
		return Descriptor{}, ErrEmptyScopes
	}
	return Descriptor{types: types, scopes: scopes}, nil
}

// MustDescriptor is NewDescriptor for static values; it panics on error.
func MustDescriptor(types TypeSet, scopes ScopeSet) Descriptor {
	d, err := NewDescriptor(types, scopes)
	if err != nil {
		panic(err)
	}
	return d
}

// Types returns the content types.
func (d Descriptor) Types() TypeSet { return d.types }

// Scopes returns the scopes.
func (d Descriptor) Scopes() ScopeSet { return d.scopes }

// IsZero reports whether d is the zero (invalid) descriptor.
func (d Descriptor) IsZero() bool { return d.types.IsEmpty() && d.scopes.IsEmpty() }

// Equal reports equality on both axes.
func (d Descriptor) Equal(other Descriptor) bool {
	return d.types.Equal(other.types) && d.scopes.Equal(other.scopes)
}

// Within reports whether d's types and scopes are subsets of the given ones.
func (d Descriptor) Within(types TypeSet, scopes ScopeSet) bool {
	return d.types.SubsetOf(types) && d.scopes.SubsetOf(scopes)
}

// Contains reports whether other is a sub-descriptor of d.
func (d Descriptor) Contains(other Descriptor) bool {
	return other.Within(d.types, d.scopes)
}

// Overlaps reports whether d shares at least one type and one scope with
// the given sets.
func (d Descriptor) Overlaps(types TypeSet, scopes ScopeSet) bool {
	return d.types.Overlaps(types) && d.scopes.Overlaps(scopes)
}

// Project intersects d with the given sets. ok is false when either axis of
// the result is empty.
func (d Descriptor) Project(types TypeSet, scopes ScopeSet) (Descriptor, bool) {
	p, err := NewDescriptor(d.types.Intersect(types), d.scopes.Intersect(scopes))
	return p, err == nil
}

// Union merges two descriptors axis by axis.
func (d Descriptor) Union(other Descriptor) Descriptor {
	return Descriptor{types: d.types.Union(other.types), scopes: d.scopes.Union(other.scopes)}
}

func (d Descriptor) String() string {
	return FormatTypes(d.types) + "/" + FormatScopes(d.scopes)
}
