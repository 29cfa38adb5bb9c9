// Package reconcile turns raw file events into per-input statuses for one
// stage invocation and decides whether the stage may run incrementally.
//
// Matching is done against the physical layout of the stage's streams:
// original artifacts as declared, intermediate streams as described by their
// producer's ledger. Anything the reconciler cannot attribute soundly makes
// the stage fall back to a full run; only a ledger that contradicts the
// stream's declared scopes is a hard error.
package reconcile

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/albertocavalcante/artipipe/pkg/content"
	"github.com/albertocavalcante/artipipe/pkg/ledger"
	"github.com/albertocavalcante/artipipe/pkg/stage"
	"github.com/albertocavalcante/artipipe/pkg/stream"
)

// LedgerReader loads the ledger of an intermediate stream folder.
type LedgerReader interface {
	ReadLedger(root string) (*ledger.Ledger, error)
}

// Request is everything one stage invocation is reconciled from.
type Request struct {
	// BuildIncremental is false when the whole build runs in full mode.
	BuildIncremental bool
	// PriorState is false when the stage has no usable previous output.
	PriorState bool
	Stage      stage.Description
	Inputs     []stream.Stream
	Referenced []stream.Stream
	Ledgers    LedgerReader
	Events     []Event
}

// Result is the outcome of a reconciliation. Inputs are populated in every
// mode; in full mode their statuses are informational.
type Result struct {
	Incremental    bool
	FallbackReason string
	Inputs         []TransformInput
	Referenced     []TransformInput
	Secondary      []SecondaryStatus
}

// Changed reports the number of jar inputs and directory files whose status
// is not NotChanged, over consumed and referenced inputs.
func (r *Result) Changed() int {
	n := 0
	for _, in := range append(append([]TransformInput{}, r.Inputs...), r.Referenced...) {
		for _, j := range in.Jars {
			if j.Status != NotChanged {
				n++
			}
		}
		for _, d := range in.Directories {
			n += len(d.ChangedFiles)
		}
	}
	return n
}

// TransformInput is the reconciled view of one stream.
type TransformInput struct {
	Stream      stream.Stream
	Jars        []JarInput
	Directories []DirectoryInput
}

// JarInput is one JAR-shaped artifact.
type JarInput struct {
	Name    string
	Path    string
	Content content.Descriptor
	Status  Status
}

// DirectoryInput is one DIRECTORY-shaped artifact. Files missing from
// ChangedFiles are unchanged. Status is Removed when the whole artifact is
// gone and NotChanged otherwise.
type DirectoryInput struct {
	Name    string
	Path    string
	Content content.Descriptor
	Status  Status
	// ChangedFiles is keyed by slash-separated path relative to Path.
	ChangedFiles map[string]Status
}

// SecondaryStatus is the status of a secondary input.
type SecondaryStatus struct {
	Input  stage.SecondaryInput
	Status Status
}

// root is one matchable artifact location.
type root struct {
	name    string
	path    string
	format  stream.Format
	content content.Descriptor
	present bool
	// ignored roots belong to the folder but not to this view.
	ignored bool

	hit     bool
	status  Status
	changed map[string]Status
}

type layout struct {
	stream  stream.Stream
	roots   []*root
	corrupt error
}

// Reconcile computes the per-input statuses and the incremental verdict for
// req. It returns an error only when a ledger cannot be read or contradicts
// the declared layout of its stream.
func Reconcile(req Request) (*Result, error) {
	inputs, err := layouts(req.Ledgers, req.Inputs)
	if err != nil {
		return nil, err
	}
	referenced, err := layouts(req.Ledgers, req.Referenced)
	if err != nil {
		return nil, err
	}

	res := &Result{Incremental: true}
	fallback := func(format string, args ...any) {
		if res.Incremental {
			res.Incremental = false
			res.FallbackReason = fmt.Sprintf(format, args...)
		}
	}

	secondary := make([]SecondaryStatus, len(req.Stage.Secondary))
	for i, s := range req.Stage.Secondary {
		secondary[i] = SecondaryStatus{Input: s}
	}

	switch {
	case !req.Stage.Incremental:
		fallback("stage %s is not incremental", req.Stage.Name)
	case !req.BuildIncremental:
		fallback("build is not incremental")
	case !req.PriorState:
		fallback("no previous state for stage %s", req.Stage.Name)
	}

	if res.Incremental {
		for _, l := range append(append([]*layout{}, inputs...), referenced...) {
			if l.corrupt != nil {
				fallback("%v", l.corrupt)
			}
		}
		var all []*root
		for _, l := range append(append([]*layout{}, inputs...), referenced...) {
			all = append(all, l.roots...)
		}
		for _, c := range group(req.Events) {
			matchSecondary(c, secondary, fallback)
			if reason := matchRoots(c, all); reason != "" {
				fallback("%s", reason)
			}
			if !c.matched && c.removed() {
				fallback("removed file %s does not belong to any known input", c.path)
			}
		}
	}

	res.Inputs = collect(inputs)
	res.Referenced = collect(referenced)
	res.Secondary = secondary
	return res, nil
}

func layouts(reader LedgerReader, streams []stream.Stream) ([]*layout, error) {
	out := make([]*layout, 0, len(streams))
	for _, s := range streams {
		l, err := layoutOf(reader, s)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func layoutOf(reader LedgerReader, s stream.Stream) (*layout, error) {
	l := &layout{stream: s}
	switch v := s.(type) {
	case *stream.Original:
		for _, a := range v.Artifacts() {
			l.roots = append(l.roots, &root{
				name:    a.Name,
				path:    filepath.Clean(a.Path),
				format:  a.Format,
				content: v.Descriptor(),
				present: true,
			})
		}
	case *stream.Intermediate:
		if reader == nil {
			return nil, fmt.Errorf("no ledger reader for intermediate stream %s", v.Name())
		}
		led, err := reader.ReadLedger(v.Root())
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", v.Name(), err)
		}
		if led.State == ledger.StateCorrupt {
			l.corrupt = fmt.Errorf("ledger of stream %s is unusable: %w", v.Name(), led.Err)
			return l, nil
		}
		selected, err := ledger.Select(v.Root(), v.Descriptor(), led.Records)
		if err != nil {
			return nil, err
		}
		for _, r := range led.Records {
			rt := &root{
				name:    r.Name,
				path:    r.Location(v.Root()),
				format:  r.Format,
				content: r.Descriptor(),
				present: r.Present,
				ignored: !containsIndex(selected, r.Index),
			}
			l.roots = append(l.roots, rt)
		}
	default:
		panic(fmt.Sprintf("reconcile: unknown stream variant %T", s))
	}
	return l, nil
}

func containsIndex(records []ledger.Record, index int) bool {
	for _, r := range records {
		if r.Index == index {
			return true
		}
	}
	return false
}

// matchRoots applies c to the best matching roots: exact JAR matches first,
// then the deepest containing directory. Every root with the winning path is
// updated, since restricted views of one stream share locations. It returns
// a fallback reason when the change cannot be applied soundly.
func matchRoots(c *change, roots []*root) string {
	var exact []*root
	for _, r := range roots {
		if r.format == stream.FormatJar && r.path == c.path {
			exact = append(exact, r)
		}
	}
	if len(exact) > 0 {
		c.matched = true
		for _, r := range exact {
			if r.ignored {
				continue
			}
			r.hit = true
			r.status = c.status()
		}
		return ""
	}

	best := ""
	for _, r := range roots {
		if r.format != stream.FormatDirectory {
			continue
		}
		if (c.path == r.path || isWithin(c.path, r.path)) && len(r.path) > len(best) {
			best = r.path
		}
	}
	if best == "" {
		return ""
	}
	c.matched = true
	if c.path == best {
		if c.removed() {
			return fmt.Sprintf("directory input %s was removed", best)
		}
		return ""
	}

	rel, err := filepath.Rel(best, c.path)
	if err != nil {
		return fmt.Sprintf("cannot relativize %s: %v", c.path, err)
	}
	rel = filepath.ToSlash(rel)
	for _, r := range roots {
		if r.format != stream.FormatDirectory || r.path != best || r.ignored {
			continue
		}
		r.hit = true
		if r.changed == nil {
			r.changed = make(map[string]Status)
		}
		r.changed[rel] = c.status()
	}
	return ""
}

func matchSecondary(c *change, secondary []SecondaryStatus, fallback func(string, ...any)) {
	for i := range secondary {
		p := filepath.Clean(secondary[i].Input.Path)
		if c.path != p && !isWithin(c.path, p) {
			continue
		}
		c.matched = true
		if !secondary[i].Input.IncrementalSafe {
			fallback("secondary input %s changed", p)
			continue
		}
		if secondary[i].Status == NotChanged {
			secondary[i].Status = c.status()
		} else {
			secondary[i].Status = Changed
		}
	}
}

func isWithin(path, dir string) bool {
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

// collect turns layouts into inputs: present roots always, absent roots only
// when an event touched them. Absent roots keep their record's descriptor,
// which may exceed the view when an earlier build declared wider scopes.
func collect(layouts []*layout) []TransformInput {
	out := make([]TransformInput, 0, len(layouts))
	for _, l := range layouts {
		in := TransformInput{Stream: l.stream}
		for _, r := range l.roots {
			if r.ignored || (!r.present && !r.hit) {
				continue
			}
			switch r.format {
			case stream.FormatJar:
				status := r.status
				if !r.present {
					status = Removed
				}
				in.Jars = append(in.Jars, JarInput{Name: r.name, Path: r.path, Content: r.content, Status: status})
			case stream.FormatDirectory:
				d := DirectoryInput{Name: r.name, Path: r.path, Content: r.content, ChangedFiles: r.changed}
				if !r.present {
					d.Status = Removed
				}
				if d.ChangedFiles == nil {
					d.ChangedFiles = map[string]Status{}
				}
				in.Directories = append(in.Directories, d)
			}
		}
		out = append(out, in)
	}
	return out
}
