// Package mcp exposes the engine to MCP clients. Every tool is a thin
// wrapper: decode arguments, call the core, return plain data for the
// caller's template layer to render.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/evolab/helix/internal/asset"
	"github.com/evolab/helix/internal/selector"
	"github.com/evolab/helix/internal/signal"
	"github.com/evolab/helix/internal/solidify"
	"github.com/evolab/helix/internal/store"
)

// Server wraps the MCP server with the helix store and write path.
type Server struct {
	store  *store.Store
	engine *solidify.Engine
	cfg    store.Config
	server *mcp.Server
}

// NewServer creates a helix MCP server.
func NewServer(st *store.Store, engine *solidify.Engine, cfg store.Config, version string) *Server {
	s := &Server{store: st, engine: engine, cfg: cfg}

	impl := &mcp.Implementation{
		Name:    "helix",
		Version: version,
	}

	s.server = mcp.NewServer(impl, nil)
	s.registerTools()

	return s
}

// Run starts the MCP server on stdio.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "helix_extract",
		Description: "Derive signal tags from free-form context and log text. Recent event history " +
			"is folded in automatically, so loop diagnostics (repair_loop, stagnation, oscillation) " +
			"appear when the chain shows them. Call this first in every cycle.",
	}, s.handleExtract)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "helix_select",
		Description: "Pick the best strategy gene for a tag set, plus the closest prior capsule and " +
			"the current event chain head. Genes banned by repeated failures are excluded unless " +
			"drift is active. Returns plain data for the caller to render into instructions.",
	}, s.handleSelect)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "helix_solidify",
		Description: "Persist a completed cycle: event, updated gene, and capsule in one atomic " +
			"write, guarded by blast-radius ceilings. Violations reject the whole request with " +
			"nothing written; validation-command failures downgrade the outcome but do not block. " +
			"Set dry_run to check limits without writing.",
	}, s.handleSolidify)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "helix_record_failure",
		Description: "Record a strategy attempt that failed before reaching solidify. Failures feed " +
			"the ban logic so repeatedly failing genes stop being proposed under similar conditions.",
	}, s.handleRecordFailure)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "helix_stats",
		Description: "Counts of stored genes, capsules, failures, events, and pending sync entries.",
	}, s.handleStats)
}

// historyWindow is how many recent events extract and select consult.
const historyWindow = 10

type ExtractArgs struct {
	Context string `json:"context,omitempty" jsonschema:"Free-form task or problem description"`
	Logs    string `json:"logs,omitempty" jsonschema:"Raw log or error output to analyze"`
}

type ExtractResult struct {
	Tags []string `json:"tags"`
}

func (s *Server) handleExtract(ctx context.Context, req *mcp.CallToolRequest, args ExtractArgs) (*mcp.CallToolResult, any, error) {
	history, err := s.store.ListRecentEvents(historyWindow)
	if err != nil {
		return nil, nil, fmt.Errorf("load history: %w", err)
	}
	tags := signal.Extract(signal.Input{Context: args.Context, Logs: args.Logs}, history)
	return nil, ExtractResult{Tags: tags}, nil
}

type SelectArgs struct {
	Tags          []string `json:"tags" jsonschema:"Signal tags from helix_extract"`
	PreferredGene string   `json:"preferred_gene,omitempty" jsonschema:"Gene id that worked last time, selected outright if it still scores"`
	Category      string   `json:"category,omitempty" jsonschema:"Restrict candidates to one category: repair, optimize, or innovate"`
}

type SelectResult struct {
	Gene           *asset.Gene    `json:"gene,omitempty"`
	Alternatives   []asset.Gene   `json:"alternatives,omitempty"`
	Capsule        *asset.Capsule `json:"capsule,omitempty"`
	DriftIntensity float64        `json:"drift_intensity"`
	BannedGenes    []string       `json:"banned_genes,omitempty"`
	ChainHead      string         `json:"chain_head,omitempty"`
}

func (s *Server) handleSelect(ctx context.Context, req *mcp.CallToolRequest, args SelectArgs) (*mcp.CallToolResult, any, error) {
	filter := store.GeneFilter{}
	if args.Category != "" {
		c := asset.Category(args.Category)
		if !asset.ValidCategories[c] {
			return nil, nil, fmt.Errorf("unknown category %q", args.Category)
		}
		filter.Category = &c
	}
	genes, err := s.store.ListGenes(filter, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("load genes: %w", err)
	}

	failures, err := s.store.ListRecentFailures(historyWindow)
	if err != nil {
		return nil, nil, fmt.Errorf("load failures: %w", err)
	}
	bans := selector.BanGenesFromFailures(failures, args.Tags, nil)

	sel := selector.SelectGene(genes, args.Tags, selector.Options{
		BannedIDs:      bans,
		PreferredID:    args.PreferredGene,
		DriftEnabled:   s.cfg.Drift.Enabled,
		PopulationSize: s.cfg.Drift.Population,
	})

	capsules, err := s.store.ListCapsules(store.CapsuleFilter{}, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("load capsules: %w", err)
	}

	head, err := s.store.LastEventID()
	if err != nil {
		return nil, nil, fmt.Errorf("load chain head: %w", err)
	}

	return nil, SelectResult{
		Gene:           sel.Selected,
		Alternatives:   sel.Alternatives,
		Capsule:        selector.SelectCapsule(capsules, args.Tags),
		DriftIntensity: sel.DriftIntensity,
		BannedGenes:    bans,
		ChainHead:      head,
	}, nil
}

type SolidifyArgs struct {
	Intent     string   `json:"intent" jsonschema:"Cycle intent: repair, optimize, or innovate"`
	Summary    string   `json:"summary,omitempty" jsonschema:"Human-readable summary of what was done"`
	Tags       []string `json:"tags,omitempty" jsonschema:"Signal tags this cycle responded to"`
	GeneID     string   `json:"gene_id,omitempty" jsonschema:"Id of the gene that was applied"`
	Capsule    bool     `json:"capsule,omitempty" jsonschema:"If true, record a capsule snapshot of this application"`
	Content    string   `json:"content,omitempty" jsonschema:"Capsule content: what the change actually was"`
	Confidence float64  `json:"confidence,omitempty" jsonschema:"Capsule confidence in [0,1]"`
	Files      int      `json:"files" jsonschema:"Blast radius: number of files touched"`
	Lines      int      `json:"lines" jsonschema:"Blast radius: number of lines touched"`
	DryRun     bool     `json:"dry_run,omitempty" jsonschema:"Validate only; nothing is written"`
}

type SolidifyResult struct {
	Accepted   bool                 `json:"accepted"`
	DryRun     bool                 `json:"dry_run,omitempty"`
	Violations []solidify.Violation `json:"violations,omitempty"`
	Warnings   []solidify.Warning   `json:"warnings,omitempty"`
	Outcome    asset.Outcome        `json:"outcome"`
	EventID    string               `json:"event_id,omitempty"`
	CapsuleID  string               `json:"capsule_id,omitempty"`
}

func (s *Server) handleSolidify(ctx context.Context, req *mcp.CallToolRequest, args SolidifyArgs) (*mcp.CallToolResult, any, error) {
	r := solidify.Request{
		Intent:      args.Intent,
		Summary:     args.Summary,
		Tags:        args.Tags,
		BlastRadius: asset.BlastRadius{Files: args.Files, Lines: args.Lines},
		DryRun:      args.DryRun,
	}

	if args.GeneID != "" {
		g, err := s.store.GetGene(args.GeneID)
		if err != nil {
			return nil, nil, fmt.Errorf("gene %s: %w", args.GeneID, err)
		}
		r.Gene = g
	}
	if args.Capsule {
		r.Capsule = &asset.Capsule{
			Content:    args.Content,
			Confidence: args.Confidence,
		}
	}

	res, err := s.engine.Solidify(ctx, r)
	if err != nil {
		return nil, nil, err
	}

	out := SolidifyResult{
		Accepted:   res.Accepted,
		DryRun:     res.DryRun,
		Violations: res.Violations,
		Warnings:   res.Warnings,
		Outcome:    res.Outcome,
	}
	if res.Event != nil {
		out.EventID = res.Event.ID
	}
	if res.Capsule != nil {
		out.CapsuleID = res.Capsule.ID
	}
	return nil, out, nil
}

type RecordFailureArgs struct {
	Gene         string   `json:"gene" jsonschema:"Id of the gene that failed"`
	Tags         []string `json:"tags,omitempty" jsonschema:"Signal tags active when it failed"`
	Reason       string   `json:"reason" jsonschema:"Why the attempt failed"`
	DiffSnapshot string   `json:"diff_snapshot,omitempty" jsonschema:"Optional diff of the abandoned change"`
}

type RecordFailureResult struct {
	ID string `json:"id"`
}

func (s *Server) handleRecordFailure(ctx context.Context, req *mcp.CallToolRequest, args RecordFailureArgs) (*mcp.CallToolResult, any, error) {
	if args.Gene == "" || args.Reason == "" {
		return nil, nil, fmt.Errorf("gene and reason are required")
	}
	f, err := s.engine.RecordFailure(args.Gene, args.Tags, args.Reason, args.DiffSnapshot)
	if err != nil {
		return nil, nil, err
	}
	return nil, RecordFailureResult{ID: f.ID}, nil
}

type StatsArgs struct{}

func (s *Server) handleStats(ctx context.Context, req *mcp.CallToolRequest, args StatsArgs) (*mcp.CallToolResult, any, error) {
	stats, err := s.store.GetStats()
	if err != nil {
		return nil, nil, err
	}
	return nil, stats, nil
}
