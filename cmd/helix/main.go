package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evolab/helix/internal/asset"
	"github.com/evolab/helix/internal/envinfo"
	"github.com/evolab/helix/internal/hub"
	helixmcp "github.com/evolab/helix/internal/mcp"
	"github.com/evolab/helix/internal/selector"
	"github.com/evolab/helix/internal/signal"
	"github.com/evolab/helix/internal/solidify"
	"github.com/evolab/helix/internal/store"
	"github.com/evolab/helix/internal/ui"
)

// Set via ldflags at build time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func buildVersion() string {
	if commit == "none" {
		return version
	}
	return fmt.Sprintf("%s (%s, %s)", version, commit, date)
}

func main() {
	var noColor bool

	rootCmd := &cobra.Command{
		Use:   "helix",
		Short: "HELIX — strategy memory for autonomous coding agents",
		Long:  "A local engine that remembers which fix and optimization strategies worked, picks the best one for a newly observed problem, and persists outcomes so future picks improve.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ui.Init(noColor)
		},
	}

	rootCmd.Version = buildVersion()
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Core Commands:"},
		&cobra.Group{ID: "memory", Title: "Memory Commands:"},
		&cobra.Group{ID: "config", Title: "Configuration:"},
	)

	for _, c := range []*cobra.Command{extractCmd(), selectCmd(), solidifyCmd()} {
		c.GroupID = "core"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{geneCmd(), statsCmd(), syncCmd()} {
		c.GroupID = "memory"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{initCmd(), doctorCmd(), configCmd()} {
		c.GroupID = "config"
		rootCmd.AddCommand(c)
	}
	rootCmd.AddCommand(mcpServeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore loads the config and opens the database, seeding the built-in
// genes on first use.
func openStore() (*store.Store, store.Config, error) {
	home := store.Home()
	cfg, err := store.LoadConfig(home)
	if err != nil {
		return nil, cfg, fmt.Errorf("helix not initialized — run 'helix init' first: %w", err)
	}
	st, err := store.Open(store.DatabasePath(home, cfg))
	if err != nil {
		return nil, cfg, err
	}
	if _, err := st.SeedGenes(); err != nil {
		st.Close()
		return nil, cfg, err
	}
	return st, cfg, nil
}

func newEngine(st *store.Store, cfg store.Config) *solidify.Engine {
	return solidify.New(st, envinfo.NewProvider(store.Home()), nil, cfg.Sync.Enabled)
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:     "init",
		Short:   "Initialize the HELIX_HOME directory",
		Long:    "Create the HELIX_HOME directory (~/.helix by default) with config.yaml and an empty database seeded with the built-in gene set.",
		Example: "  helix init\n  helix init --force",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := store.Home()
			if err := store.Init(home, force); err != nil {
				return err
			}
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ui.Success("helix initialized")
			ui.Detail("Home:    ", home)
			ui.Detail("Database:", st.Path())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Reinitialize even if HELIX_HOME already exists")
	return cmd
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the health of the helix installation",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := store.Home()
			issues := store.CheckHealth(home)

			errs := 0
			for _, issue := range issues {
				if issue.Severity == "error" {
					ui.Error(issue.Message)
					errs++
				} else {
					ui.Warning(issue.Message)
				}
			}
			if len(issues) == 0 {
				ui.Success("everything looks healthy")
			}
			if errs > 0 {
				return fmt.Errorf("%d problem(s) found", errs)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := store.LoadConfig(store.Home())
			if err != nil {
				return err
			}
			ui.KeyValue("store.path:      ", cfg.Store.Path)
			ui.KeyValue("sync.enabled:    ", fmt.Sprintf("%v", cfg.Sync.Enabled))
			ui.KeyValue("sync.hub_url:    ", cfg.Sync.HubURL)
			ui.KeyValue("drift.enabled:   ", fmt.Sprintf("%v", cfg.Drift.Enabled))
			ui.KeyValue("drift.population:", fmt.Sprintf("%d", cfg.Drift.Population))
			ui.KeyValue("workspace:       ", cfg.Workspace)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			home := store.Home()
			cfg, err := store.LoadConfig(home)
			if err != nil {
				return err
			}
			if err := store.SetConfigValue(home, &cfg, args[0], args[1]); err != nil {
				return err
			}
			ui.Success(fmt.Sprintf("%s = %s", args[0], args[1]))
			return nil
		},
	})
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show record counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := st.GetStats()
			if err != nil {
				return err
			}
			ui.KeyValue("Genes:        ", fmt.Sprintf("%d", stats.Genes))
			ui.KeyValue("Capsules:     ", fmt.Sprintf("%d", stats.Capsules))
			ui.KeyValue("Failures:     ", fmt.Sprintf("%d", stats.FailedCapsules))
			ui.KeyValue("Events:       ", fmt.Sprintf("%d", stats.Events))
			ui.KeyValue("Pending sync: ", fmt.Sprintf("%d", stats.PendingSync))
			return nil
		},
	}
}

func geneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gene",
		Short: "Inspect and manage strategy genes",
	}
	cmd.AddCommand(geneListCmd())
	cmd.AddCommand(geneShowCmd())
	cmd.AddCommand(geneDeleteCmd())
	return cmd
}

func geneListCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored genes",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			filter := store.GeneFilter{}
			if category != "" {
				c := asset.Category(category)
				if !asset.ValidCategories[c] {
					return fmt.Errorf("unknown category %q (repair, optimize, innovate)", category)
				}
				filter.Category = &c
			}
			genes, err := st.ListGenes(filter, 0)
			if err != nil {
				return err
			}
			if len(genes) == 0 {
				ui.EmptyState("No genes stored.")
				return nil
			}
			var rows [][]string
			for _, g := range genes {
				rows = append(rows, []string{g.ID, string(g.Category), strings.Join(g.SignalsMatch, ", ")})
			}
			ui.Table([]string{"ID", "CATEGORY", "MATCHES"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Filter by category (repair, optimize, innovate)")
	return cmd
}

func geneShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <gene-id>",
		Short: "Print a gene's full record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			g, err := st.GetGene(args[0])
			if err != nil {
				return err
			}
			return printJSON(g)
		},
	}
}

func geneDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <gene-id>",
		Short: "Delete a gene",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteGene(args[0]); err != nil {
				return err
			}
			ui.Success(fmt.Sprintf("deleted gene %s", args[0]))
			return nil
		},
	}
}

func extractCmd() *cobra.Command {
	var contextText string
	var logsFile string
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Derive signal tags from context and logs",
		Long:  "Analyze free-form context text plus optional log output, fold in recent event history, and print the resulting signal tags as JSON.",
		Example: `  helix extract -c "users report the importer crashes on large files"
  helix extract -c "build is broken" --logs build.log`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			var logs string
			if logsFile != "" {
				data, err := os.ReadFile(logsFile)
				if err != nil {
					return fmt.Errorf("read logs: %w", err)
				}
				logs = string(data)
			}

			history, err := st.ListRecentEvents(10)
			if err != nil {
				return err
			}
			tags := signal.Extract(signal.Input{Context: contextText, Logs: logs}, history)
			return printJSON(map[string]any{"tags": tags})
		},
	}
	cmd.Flags().StringVarP(&contextText, "context", "c", "", "Context text to analyze")
	cmd.Flags().StringVar(&logsFile, "logs", "", "File with log output to analyze")
	return cmd
}

func selectCmd() *cobra.Command {
	var tags []string
	var preferred string
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Pick the best gene for a tag set",
		Example: `  helix select --tag error_detected --tag recurring_error
  helix select --tag performance_bottleneck --prefer optimize-hot-path`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cfg, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			genes, err := st.ListGenes(store.GeneFilter{}, 0)
			if err != nil {
				return err
			}
			failures, err := st.ListRecentFailures(10)
			if err != nil {
				return err
			}
			bans := selector.BanGenesFromFailures(failures, tags, nil)

			sel := selector.SelectGene(genes, tags, selector.Options{
				BannedIDs:      bans,
				PreferredID:    preferred,
				DriftEnabled:   cfg.Drift.Enabled,
				PopulationSize: cfg.Drift.Population,
			})

			if sel.Selected == nil {
				ui.EmptyState("No gene matches these tags.")
				if len(sel.Alternatives) > 0 {
					ui.Warning("matching genes exist but are banned by recent failures:")
					for _, g := range sel.Alternatives {
						ui.Detail(g.ID, string(g.Category))
					}
				}
				return nil
			}

			ui.Success(fmt.Sprintf("selected %s", sel.Selected.ID))
			ui.Detail("Category:", string(sel.Selected.Category))
			ui.Detail("Strategy:", strings.Join(sel.Selected.Strategy, " → "))
			ui.Detail("Drift:   ", fmt.Sprintf("%.2f", sel.DriftIntensity))
			if len(sel.Alternatives) > 0 {
				ui.SectionHeader("Alternatives")
				for _, g := range sel.Alternatives {
					ui.Detail(g.ID, string(g.Category))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "Signal tag (repeatable)")
	cmd.Flags().StringVar(&preferred, "prefer", "", "Gene id to prefer if it still matches")
	return cmd
}

func solidifyCmd() *cobra.Command {
	var (
		intent     string
		summary    string
		tags       []string
		geneID     string
		capsule    bool
		content    string
		confidence float64
		files      int
		lines      int
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "solidify",
		Short: "Persist a completed cycle through the guarded write path",
		Long:  "Write the cycle's evolution event, updated gene, and optional capsule atomically, after checking the declared blast radius against the hard ceilings and the gene's own limit.",
		Example: `  helix solidify --intent repair --gene fix-recurring-error --files 3 --lines 120 \
      --tag error_detected --summary "pinned the flaky dependency"
  helix solidify --intent optimize --files 70 --lines 100 --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cfg, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			req := solidify.Request{
				Intent:      intent,
				Summary:     summary,
				Tags:        tags,
				BlastRadius: asset.BlastRadius{Files: files, Lines: lines},
				DryRun:      dryRun,
			}
			if geneID != "" {
				g, err := st.GetGene(geneID)
				if err != nil {
					return fmt.Errorf("gene %s: %w", geneID, err)
				}
				req.Gene = g
			}
			if capsule {
				req.Capsule = &asset.Capsule{Content: content, Confidence: confidence}
			}

			res, err := newEngine(st, cfg).Solidify(cmd.Context(), req)
			if err != nil {
				return err
			}

			if !res.Accepted {
				for _, v := range res.Violations {
					ui.Error(fmt.Sprintf("%s: %s", v.Rule, v.Message))
				}
				return fmt.Errorf("rejected with %d violation(s), nothing written", len(res.Violations))
			}
			for _, w := range res.Warnings {
				ui.Warning(fmt.Sprintf("%s: %s", w.Command, w.Message))
			}
			if res.DryRun {
				ui.Info("dry run: limits cleared, nothing written")
				return nil
			}
			ui.Success(fmt.Sprintf("solidified event %s (%s, score %.1f)", res.Event.ID, res.Outcome.Status, res.Outcome.Score))
			if res.Capsule != nil {
				ui.Detail("Capsule:", res.Capsule.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&intent, "intent", "", "Cycle intent: repair, optimize, or innovate")
	cmd.Flags().StringVar(&summary, "summary", "", "What was done")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "Signal tag this cycle responded to (repeatable)")
	cmd.Flags().StringVar(&geneID, "gene", "", "Id of the gene that was applied")
	cmd.Flags().BoolVar(&capsule, "capsule", false, "Record a capsule snapshot")
	cmd.Flags().StringVar(&content, "content", "", "Capsule content")
	cmd.Flags().Float64Var(&confidence, "confidence", 0.8, "Capsule confidence in [0,1]")
	cmd.Flags().IntVar(&files, "files", 0, "Blast radius: files touched")
	cmd.Flags().IntVar(&lines, "lines", 0, "Blast radius: lines touched")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate only, write nothing")
	_ = cmd.MarkFlagRequired("intent")
	return cmd
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push pending assets to the configured hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cfg, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if !cfg.Sync.Enabled || cfg.Sync.HubURL == "" {
				return fmt.Errorf("sync is not configured — set sync.enabled and sync.hub_url")
			}

			rep, err := hub.New(st, cfg.Sync.HubURL).Push(cmd.Context())
			if err != nil {
				return err
			}
			ui.Success(fmt.Sprintf("pushed %d asset(s), %d failed", rep.Pushed, rep.Failed))
			return nil
		},
	}
}

func mcpServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-serve",
		Short: "Run the helix MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cfg, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			srv := helixmcp.NewServer(st, newEngine(st, cfg), cfg, buildVersion())
			return srv.Run(context.Background())
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
