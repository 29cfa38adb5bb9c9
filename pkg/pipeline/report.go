package pipeline

import (
	"time"

	"github.com/albertocavalcante/artipipe/pkg/ledger"
	"github.com/albertocavalcante/artipipe/pkg/reconcile"
)

// Report summarizes one stage execution.
type Report struct {
	Stage          string          `json:"stage"`
	Ran            bool            `json:"ran"`
	Incremental    bool            `json:"incremental"`
	FallbackReason string          `json:"fallback_reason,omitempty"`
	Events         int             `json:"events"`
	Inputs         int             `json:"inputs"`
	Changed        int             `json:"changed"`
	Records        []ledger.Record `json:"records,omitempty"`
	Duration       time.Duration   `json:"duration_ns"`
}

func (r *Report) fill(res *reconcile.Result, events int) {
	r.Incremental = res.Incremental
	r.FallbackReason = res.FallbackReason
	r.Events = events
	r.Changed = res.Changed()
	for _, in := range res.Inputs {
		r.Inputs += len(in.Jars) + len(in.Directories)
	}
}
