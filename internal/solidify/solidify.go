// Package solidify is the guarded write path: the only way cycle results
// become persistent records. A request either clears every blast-radius
// gate and lands atomically, or is rejected with nothing written.
package solidify

import (
	"context"
	"fmt"
	"time"

	"github.com/evolab/helix/internal/asset"
	"github.com/evolab/helix/internal/envinfo"
	"github.com/evolab/helix/internal/runtime"
	"github.com/evolab/helix/internal/store"
)

// Hard ceilings. Not configurable; a gene's own max_files can only be
// stricter.
const (
	MaxFiles = 60
	MaxLines = 20000
)

// Outcome scores recorded on the event and capsule.
const (
	scoreSuccess = 1.0
	scorePartial = 0.5
)

const (
	StatusSuccess = "success"
	StatusPartial = "partial"
)

// Violation is a hard constraint breach. Any violation rejects the whole
// request.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Warning is a failed check that does not block the write; it downgrades
// the recorded outcome instead.
type Warning struct {
	Command string `json:"command"`
	Message string `json:"message"`
}

// Request is one candidate cycle result.
type Request struct {
	Intent      string
	Summary     string
	Tags        []string
	Gene        *asset.Gene
	Capsule     *asset.Capsule
	BlastRadius asset.BlastRadius
	DryRun      bool
}

// Result reports what happened. Violations and warnings are data for the
// caller to render, not errors.
type Result struct {
	Accepted   bool
	DryRun     bool
	Violations []Violation
	Warnings   []Warning
	Outcome    asset.Outcome
	Event      *asset.Event
	Gene       *asset.Gene
	Capsule    *asset.Capsule
}

// Runner executes one validation command. *runtime* provides the real
// implementation; tests substitute their own.
type Runner interface {
	Run(ctx context.Context, command string) (runtime.Result, error)
}

type runnerFunc func(ctx context.Context, command string) (runtime.Result, error)

func (f runnerFunc) Run(ctx context.Context, command string) (runtime.Result, error) {
	return f(ctx, command)
}

// DefaultRunner runs commands through the allow-list.
func DefaultRunner() Runner { return runnerFunc(runtime.Run) }

// Engine wires the write path to its collaborators.
type Engine struct {
	store  *store.Store
	env    *envinfo.Provider
	runner Runner
	sync   bool
	now    func() time.Time
}

// New builds an engine. markPending should reflect whether external sync
// is configured; when set, written genes and capsules land on the pending
// ledger.
func New(st *store.Store, env *envinfo.Provider, runner Runner, markPending bool) *Engine {
	if runner == nil {
		runner = DefaultRunner()
	}
	return &Engine{store: st, env: env, runner: runner, sync: markPending, now: time.Now}
}

// Solidify validates the request and, unless rejected or dry-run, writes
// the event, gene, and capsule in one transaction. The returned error
// covers store failures only; constraint outcomes live in the Result.
func (e *Engine) Solidify(ctx context.Context, req Request) (*Result, error) {
	res := &Result{DryRun: req.DryRun}

	res.Violations = checkLimits(req)
	if len(res.Violations) > 0 {
		return res, nil
	}

	if req.Gene != nil && !req.DryRun {
		res.Warnings = e.runValidation(ctx, req.Gene.Validation)
	}

	res.Outcome = asset.Outcome{Status: StatusSuccess, Score: scoreSuccess}
	if len(res.Warnings) > 0 {
		res.Outcome = asset.Outcome{Status: StatusPartial, Score: scorePartial}
	}

	parent, err := e.store.LastEventID()
	if err != nil {
		return nil, err
	}
	event, gene, capsule := e.assemble(req, parent, res.Outcome)

	res.Accepted = true
	if req.DryRun {
		res.Event, res.Gene, res.Capsule = &event, gene, capsule
		return res, nil
	}

	written, err := e.store.WriteCycle(store.CycleWrite{
		Event:       event,
		Gene:        gene,
		Capsule:     capsule,
		MarkPending: e.sync,
	})
	if err != nil {
		return nil, fmt.Errorf("solidify write: %w", err)
	}
	res.Event = &written.Event
	res.Gene = written.Gene
	res.Capsule = written.Capsule
	return res, nil
}

func checkLimits(req Request) []Violation {
	var out []Violation
	if req.BlastRadius.Files > MaxFiles {
		out = append(out, Violation{
			Rule:    "max_files",
			Message: fmt.Sprintf("blast radius touches %d files, ceiling is %d", req.BlastRadius.Files, MaxFiles),
		})
	}
	if req.BlastRadius.Lines > MaxLines {
		out = append(out, Violation{
			Rule:    "max_lines",
			Message: fmt.Sprintf("blast radius touches %d lines, ceiling is %d", req.BlastRadius.Lines, MaxLines),
		})
	}
	if req.Gene != nil && req.BlastRadius.Files > req.Gene.MaxFiles() {
		out = append(out, Violation{
			Rule:    "gene_max_files",
			Message: fmt.Sprintf("gene %s allows %d files, request touches %d", req.Gene.ID, req.Gene.MaxFiles(), req.BlastRadius.Files),
		})
	}
	return out
}

// runValidation executes the gene's validation commands. A rejected or
// failing command is a warning, never a blocker.
func (e *Engine) runValidation(ctx context.Context, commands []string) []Warning {
	var out []Warning
	for _, cmd := range commands {
		run, err := e.runner.Run(ctx, cmd)
		switch {
		case err != nil:
			out = append(out, Warning{Command: cmd, Message: err.Error()})
		case run.TimedOut:
			out = append(out, Warning{Command: cmd, Message: "timed out"})
		case run.ExitCode != 0:
			out = append(out, Warning{Command: cmd, Message: fmt.Sprintf("exit %d", run.ExitCode)})
		}
	}
	return out
}

// assemble builds the records to persist. The event links to whatever id
// was last written; under concurrent writers the chain can fork, which is
// accepted behavior here.
func (e *Engine) assemble(req Request, parent string, outcome asset.Outcome) (asset.Event, *asset.Gene, *asset.Capsule) {
	now := e.now()
	env := e.env.Collect()

	event := asset.Event{
		Type:        asset.KindEvent,
		ID:          asset.NewEventID(now),
		Parent:      parent,
		Intent:      req.Intent,
		Signals:     req.Tags,
		BlastRadius: req.BlastRadius,
		Outcome:     outcome,
		Environment: env,
	}

	var gene *asset.Gene
	if req.Gene != nil {
		g := *req.Gene
		g.Type = asset.KindGene
		gene = &g
		event.GenesUsed = []string{g.ID}
	}

	var capsule *asset.Capsule
	if req.Capsule != nil {
		c := *req.Capsule
		c.Type = asset.KindCapsule
		if c.ID == "" {
			c.ID = asset.NewCapsuleID(now)
		}
		if len(c.Trigger) == 0 {
			c.Trigger = req.Tags
		}
		if c.Summary == "" {
			c.Summary = req.Summary
		}
		if gene != nil && c.Gene == "" {
			c.Gene = gene.ID
		}
		c.BlastRadius = req.BlastRadius
		c.Outcome = outcome
		c.Environment = env
		capsule = &c
	}

	return event, gene, capsule
}

// RecordFailure appends a FailedCapsule outside the guarded path. It is
// unconditional: failures feed the ban logic and are always worth keeping.
func (e *Engine) RecordFailure(geneID string, tags []string, reason, diffSnapshot string) (*asset.FailedCapsule, error) {
	f := asset.FailedCapsule{
		Type:          asset.KindFailedCapsule,
		ID:            asset.NewFailureID(e.now()),
		Gene:          geneID,
		Trigger:       tags,
		FailureReason: reason,
		DiffSnapshot:  diffSnapshot,
	}
	if err := e.store.AppendFailure(f); err != nil {
		return nil, err
	}
	return &f, nil
}
