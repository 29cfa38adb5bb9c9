package content

import (
	"encoding/json"
	"fmt"
)

// Type identifies the kind of an artifact. The set of types is open:
// besides the well-known values below, build tools may introduce their own.
type Type string

// Well-known content types.
const (
	Classes         Type = "CLASSES"
	Resources       Type = "RESOURCES"
	NativeLibs      Type = "NATIVE_LIBS"
	Dex             Type = "DEX"
	ClassesEnhanced Type = "CLASSES_ENHANCED"
	DataBinding     Type = "DATA_BINDING"
)

// ParseType validates a content type name. Names are upper-case identifiers
// made of letters, digits and underscores.
func ParseType(name string) (Type, error) {
	if name == "" {
		return "", fmt.Errorf("empty content type")
	}
	for i, r := range name {
		switch {
		case r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return "", fmt.Errorf("invalid content type %q", name)
		}
	}
	return Type(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TypeSet is a set of content types.
type TypeSet = Set[Type]

// Types builds a TypeSet.
func Types(types ...Type) TypeSet { return NewSet(types...) }

// ParseTypes parses a list of content type names into a set.
func ParseTypes(names []string) (TypeSet, error) {
	types := make([]Type, 0, len(names))
	for _, n := range names {
		t, err := ParseType(n)
		if err != nil {
			return TypeSet{}, err
		}
		types = append(types, t)
	}
	return NewSet(types...), nil
}

// FormatTypes renders a type set as "[A,B]".
func FormatTypes(s TypeSet) string {
	return formatSet(s, func(t Type) string { return string(t) })
}

// MarshalJSON encodes the set as a sorted array; the empty set is [].
func (s Set[T]) MarshalJSON() ([]byte, error) {
	if s.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.items)
}

// UnmarshalJSON decodes an array of members.
func (s *Set[T]) UnmarshalJSON(b []byte) error {
	var items []T
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	*s = NewSet(items...)
	return nil
}
