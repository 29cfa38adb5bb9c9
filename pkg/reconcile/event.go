package reconcile

import (
	"fmt"
	"path/filepath"
)

// Kind is the kind of a raw file event.
type Kind int

const (
	KindAdded Kind = iota + 1
	KindModified
	KindRemoved
)

var kindNames = map[Kind]string{
	KindAdded:    "ADDED",
	KindModified: "MODIFIED",
	KindRemoved:  "REMOVED",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind parses an event kind name.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", name)
}

// Event is a raw change to one absolute file path. The order of events is
// not significant.
type Event struct {
	Path string
	Kind Kind
}

// Status is the reconciled state of an input or of a file inside a
// directory input.
type Status int

const (
	NotChanged Status = iota
	Added
	Changed
	Removed
)

var statusNames = map[Status]string{
	NotChanged: "NOTCHANGED",
	Added:      "ADDED",
	Changed:    "CHANGED",
	Removed:    "REMOVED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// change is every event kind seen for one path.
type change struct {
	path    string
	kinds   map[Kind]bool
	matched bool
}

// status folds the kinds into one status. A single kind maps directly,
// ADDED with MODIFIED is still an addition, any other mix is a change.
func (c *change) status() Status {
	switch {
	case len(c.kinds) == 1 && c.kinds[KindAdded]:
		return Added
	case len(c.kinds) == 1 && c.kinds[KindModified]:
		return Changed
	case len(c.kinds) == 1 && c.kinds[KindRemoved]:
		return Removed
	case len(c.kinds) == 2 && c.kinds[KindAdded] && c.kinds[KindModified]:
		return Added
	default:
		return Changed
	}
}

func (c *change) removed() bool { return c.kinds[KindRemoved] }

// group merges events by cleaned path, preserving first-seen order.
func group(events []Event) []*change {
	var out []*change
	byPath := make(map[string]*change, len(events))
	for _, e := range events {
		p := filepath.Clean(e.Path)
		c, ok := byPath[p]
		if !ok {
			c = &change{path: p, kinds: make(map[Kind]bool, 1)}
			byPath[p] = c
			out = append(out, c)
		}
		c.kinds[e.Kind] = true
	}
	return out
}
