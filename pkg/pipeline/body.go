package pipeline

import (
	"context"
	"log/slog"

	"github.com/albertocavalcante/artipipe/pkg/ledger"
	"github.com/albertocavalcante/artipipe/pkg/reconcile"
	"github.com/albertocavalcante/artipipe/pkg/stage"
)

// Body is the work a stage performs. It is opaque to the pipeline.
type Body interface {
	Run(ctx context.Context, inv *Invocation) error
}

// BodyFunc adapts a function to Body.
type BodyFunc func(ctx context.Context, inv *Invocation) error

// Run calls f.
func (f BodyFunc) Run(ctx context.Context, inv *Invocation) error { return f(ctx, inv) }

// Invocation is what a body receives for one execution.
type Invocation struct {
	Stage stage.Description
	// Incremental is true when only changed inputs need processing. In full
	// mode previous outputs have already been deleted.
	Incremental bool
	Inputs      []reconcile.TransformInput
	Referenced  []reconcile.TransformInput
	Secondary   []reconcile.SecondaryStatus
	// Output is nil for stages that consume nothing.
	Output *ledger.OutputProvider
	Logger *slog.Logger
}
