// Package pipeline assembles streams and stages into a pipeline and executes
// it: each stage is reconciled against its previous run, its body is
// invoked, and its output ledger is persisted.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/albertocavalcante/artipipe/pkg/ledger"
	"github.com/albertocavalcante/artipipe/pkg/reconcile"
	"github.com/albertocavalcante/artipipe/pkg/registry"
	"github.com/albertocavalcante/artipipe/pkg/stage"
	"github.com/albertocavalcante/artipipe/pkg/stream"
	"github.com/albertocavalcante/artipipe/pkg/util"
)

// EventSource supplies raw change events per stage.
type EventSource interface {
	// Events returns the changes under roots since the stage's last commit.
	// known is false when the source has no previous state for the stage.
	Events(ctx context.Context, stageName string, roots []string) (events []reconcile.Event, known bool, err error)
	// Commit records that the stage has consumed the events last returned.
	Commit(ctx context.Context, stageName string) error
}

type step struct {
	binding *registry.Binding
	body    Body
	level   int
}

// Pipeline is a wired set of streams and stages.
type Pipeline struct {
	ctx      *Context
	registry *registry.Registry
	steps    []*step
	byName   map[string]*step
}

// New creates an empty pipeline bound to c.
func New(c *Context) *Pipeline {
	return &Pipeline{
		ctx:      c,
		registry: registry.New(c, c.Logger()),
		byName:   make(map[string]*step),
	}
}

// Context returns the run context.
func (p *Pipeline) Context() *Context { return p.ctx }

// Registry returns the stream registry.
func (p *Pipeline) Registry() *registry.Registry { return p.registry }

// AddStream registers an original stream.
func (p *Pipeline) AddStream(s stream.Stream) { p.registry.Add(s) }

// AddStage wires a stage and its body. Stages must be added after the
// streams and stages they consume.
func (p *Pipeline) AddStage(desc stage.Description, body Body) (*registry.Binding, error) {
	if body == nil {
		return nil, &registry.ConfigurationError{Stage: desc.Name, Msg: "stage has no body"}
	}
	b, err := p.registry.AddTransform(desc)
	if err != nil {
		return nil, err
	}
	s := &step{binding: b, body: body}
	for _, in := range slices.Concat(b.Inputs, b.Referenced) {
		if im, ok := in.(*stream.Intermediate); ok {
			if producer, ok := p.byName[im.Producer()]; ok && producer.level+1 > s.level {
				s.level = producer.level + 1
			}
		}
	}
	p.steps = append(p.steps, s)
	p.byName[desc.Name] = s
	return b, nil
}

// Stages returns the stage bindings in wiring order.
func (p *Pipeline) Stages() []*registry.Binding {
	out := make([]*registry.Binding, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.binding
	}
	return out
}

// Levels groups stage names by dependency level. Stages of one level do not
// depend on each other.
func (p *Pipeline) Levels() [][]string {
	var levels [][]string
	for _, s := range p.steps {
		for len(levels) <= s.level {
			levels = append(levels, nil)
		}
		levels[s.level] = append(levels[s.level], s.binding.Stage.Name)
	}
	return levels
}

// Plan reconciles every stage without running bodies or committing events.
// Downstream stages see the state left by the previous run.
func (p *Pipeline) Plan(ctx context.Context, src EventSource) ([]Report, error) {
	return p.execute(ctx, src, false)
}

// Run executes every stage, level by level. A failing stage cancels the
// remaining work.
func (p *Pipeline) Run(ctx context.Context, src EventSource) ([]Report, error) {
	return p.execute(ctx, src, true)
}

func (p *Pipeline) execute(ctx context.Context, src EventSource, run bool) ([]Report, error) {
	reports := make([]Report, len(p.steps))
	index := make(map[*step]int, len(p.steps))
	for i, s := range p.steps {
		index[s] = i
	}

	for level, names := range p.Levels() {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.ctx.Parallelism())
		for _, name := range names {
			s := p.byName[name]
			g.Go(func() error {
				r, err := p.runStep(gctx, src, s, run)
				reports[index[s]] = r
				if err != nil {
					return fmt.Errorf("stage %s: %w", name, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return reports, err
		}
		p.ctx.Logger().Debug("level complete", "level", level, "stages", len(names))
	}
	return reports, nil
}

func (p *Pipeline) runStep(ctx context.Context, src EventSource, s *step, run bool) (Report, error) {
	start := time.Now()
	b := s.binding
	desc := b.Stage
	logger := p.ctx.Logger().With("stage", desc.Name)
	report := Report{Stage: desc.Name}

	if err := ctx.Err(); err != nil {
		return report, err
	}

	events, known, err := src.Events(ctx, desc.Name, StageRoots(b))
	if err != nil {
		return report, fmt.Errorf("failed to collect events: %w", err)
	}

	var own *ledger.Ledger
	if b.Output != nil {
		own, err = p.ctx.ReadLedger(b.Output.Root())
		if err != nil {
			return report, err
		}
		known = known && own.Known()
	}

	res, err := reconcile.Reconcile(reconcile.Request{
		BuildIncremental: p.ctx.Incremental(),
		PriorState:       known,
		Stage:            desc,
		Inputs:           b.Inputs,
		Referenced:       b.Referenced,
		Ledgers:          p.ctx,
		Events:           events,
	})
	if err != nil {
		return report, err
	}
	report.fill(res, len(events))
	if !res.Incremental {
		logger.Info("running in full mode", "reason", res.FallbackReason)
	} else {
		logger.Info("running incrementally", "changed", report.Changed)
	}

	if !run {
		report.Duration = time.Since(start)
		return report, nil
	}

	var out *ledger.OutputProvider
	if b.Output != nil {
		out = ledger.NewOutputProvider(b.Output, own.Records)
		if !res.Incremental {
			if err := out.DeleteAll(); err != nil {
				return report, err
			}
		}
	}

	inv := &Invocation{
		Stage:       desc,
		Incremental: res.Incremental,
		Inputs:      res.Inputs,
		Referenced:  res.Referenced,
		Secondary:   res.Secondary,
		Output:      out,
		Logger:      logger,
	}
	if err := s.body.Run(ctx, inv); err != nil {
		if out != nil {
			if dropErr := p.ctx.DropLedger(out.Root()); dropErr != nil {
				err = errors.Join(err, dropErr)
			}
		}
		return report, err
	}

	if out != nil {
		report.Records = out.Finalize()
		if err := p.ctx.SaveLedger(out.Root(), report.Records); err != nil {
			return report, err
		}
	}
	if err := src.Commit(ctx, desc.Name); err != nil {
		return report, fmt.Errorf("failed to commit events: %w", err)
	}

	report.Ran = true
	report.Duration = time.Since(start)
	logger.Debug("stage complete", "duration", report.Duration, "records", len(report.Records))
	return report, nil
}

// StageRoots lists every path whose changes concern the stage: the roots of
// its consumed and referenced streams and its secondary inputs.
func StageRoots(b *registry.Binding) []string {
	var roots []string
	for _, s := range slices.Concat(b.Inputs, b.Referenced) {
		roots = append(roots, stream.Roots(s)...)
	}
	for _, sec := range b.Stage.Secondary {
		roots = append(roots, sec.Path)
	}
	return util.SortedUnique(roots)
}
