package content

import "fmt"

// Scope identifies the provenance of code or resources. Unlike Type, the
// set of scopes is closed.
type Scope int

const (
	// Project is the module being built.
	Project Scope = iota + 1
	// SubProjects are other modules of the same build.
	SubProjects
	// ExternalLibraries are published libraries resolved from repositories.
	ExternalLibraries
	// TestedCode is the code under test when building a test artifact.
	TestedCode
	// ProvidedOnly is compile-only code that is not packaged.
	ProvidedOnly
	// ProjectLocalDeps are local binary dependencies of the module.
	ProjectLocalDeps
	// SubProjectsLocalDeps are local binary dependencies of sub-modules.
	SubProjectsLocalDeps
)

var scopeNames = map[Scope]string{
	Project:              "PROJECT",
	SubProjects:          "SUB_PROJECTS",
	ExternalLibraries:    "EXTERNAL_LIBRARIES",
	TestedCode:           "TESTED_CODE",
	ProvidedOnly:         "PROVIDED_ONLY",
	ProjectLocalDeps:     "PROJECT_LOCAL_DEPS",
	SubProjectsLocalDeps: "SUB_PROJECTS_LOCAL_DEPS",
}

// AllScopes lists every scope in declaration order.
func AllScopes() []Scope {
	return []Scope{Project, SubProjects, ExternalLibraries, TestedCode, ProvidedOnly, ProjectLocalDeps, SubProjectsLocalDeps}
}

func (s Scope) String() string {
	if name, ok := scopeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Scope(%d)", int(s))
}

// ParseScope resolves a scope by name.
func ParseScope(name string) (Scope, error) {
	for s, n := range scopeNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown scope %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Scope) MarshalText() ([]byte, error) {
	name, ok := scopeNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown scope %d", int(s))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scope) UnmarshalText(b []byte) error {
	parsed, err := ParseScope(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ScopeSet is a set of scopes.
type ScopeSet = Set[Scope]

// Scopes builds a ScopeSet.
func Scopes(scopes ...Scope) ScopeSet { return NewSet(scopes...) }

// ParseScopes parses a list of scope names into a set.
func ParseScopes(names []string) (ScopeSet, error) {
	scopes := make([]Scope, 0, len(names))
	for _, n := range names {
		s, err := ParseScope(n)
		if err != nil {
			return ScopeSet{}, err
		}
		scopes = append(scopes, s)
	}
	return NewSet(scopes...), nil
}

// FormatScopes renders a scope set as "[A,B]".
func FormatScopes(s ScopeSet) string {
	return formatSet(s, Scope.String)
}
