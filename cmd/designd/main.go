// Package main implements the designd CLI driving the design workflow.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/designd/internal/backlog"
	"github.com/fyrsmithlabs/designd/internal/config"
	"github.com/fyrsmithlabs/designd/internal/docstore"
	"github.com/fyrsmithlabs/designd/internal/logging"
	"github.com/fyrsmithlabs/designd/internal/orchestrator"
	"github.com/fyrsmithlabs/designd/internal/template"
	"github.com/fyrsmithlabs/designd/internal/validation"
)

var (
	configPath string
	workspace  string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "designd",
	Short: "Phase-gated design workflow engine",
	Long: `designd drives iterative discovery with a reasoning service into a
validated, cross-linked document set, decomposes the approved design into
task backlogs, and delegates each task to an executor.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "workspace directory (overrides config)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [feature...]",
	Short: "Start a fresh workflow and drive it to closure",
	Long: `Start a fresh workflow for the named features. With no arguments a
single "core" feature is assumed.

Examples:
  designd run
  designd run billing auth
  designd run --workspace ./project billing`,
	RunE: runRun,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue a workflow from its persisted state",
	RunE:  runResume,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the persisted phase and gate state",
	RunE:  runStatus,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run a one-shot validation pass over the current documents",
	RunE:  runValidate,
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if workspace != "" {
		cfg.Workspace = workspace
	}
	return cfg, nil
}

type components struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *docstore.Store
	registry *template.Registry
	validate *validation.Engine
}

func buildComponents() (*components, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	store, err := docstore.Open(cfg.Workspace, logger)
	if err != nil {
		return nil, err
	}
	registry := template.NewRegistry(cfg.Template.Style)
	return &components{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: registry,
		validate: validation.NewEngine(store, registry, cfg.Split, logger),
	}, nil
}

func buildEngine(c *components) (*orchestrator.Engine, error) {
	backlogs, err := backlog.OpenStore(c.cfg.Workspace, c.logger)
	if err != nil {
		return nil, err
	}
	deps := orchestrator.Deps{
		Store:      c.store,
		Registry:   c.registry,
		Validator:  c.validate,
		Decomposer: backlog.NewDecomposer(c.logger),
		Backlogs:   backlogs,
		Executor:   &stubExecutor{},
		Reasoner:   &stubReasoner{},
	}
	if c.cfg.Diagrams.Enabled {
		deps.Renderer = &stubRenderer{}
	}
	return orchestrator.New(c.cfg, deps, c.logger)
}

func runRun(cmd *cobra.Command, args []string) error {
	c, err := buildComponents()
	if err != nil {
		return err
	}
	defer c.logger.Sync()
	eng, err := buildEngine(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return eng.Run(ctx, args)
}

func runResume(cmd *cobra.Command, args []string) error {
	c, err := buildComponents()
	if err != nil {
		return err
	}
	defer c.logger.Sync()
	eng, err := buildEngine(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return eng.Resume(ctx)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	state, err := orchestrator.LoadState(cfg.Workspace)
	if err != nil {
		return err
	}
	if state == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "no workflow state found")
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), formatStatus(state))
	return nil
}

// formatStatus renders the persisted state in phase order.
func formatStatus(state *orchestrator.State) string {
	out := fmt.Sprintf("phase: %s\n", state.Phase)
	if len(state.Features) > 0 {
		out += fmt.Sprintf("features: %v\n", state.Features)
	}
	if state.Rollbacks > 0 {
		out += fmt.Sprintf("rollbacks: %d\n", state.Rollbacks)
	}
	out += "gates:\n"
	for _, p := range orchestrator.AllPhases() {
		g := state.Gate(p)
		line := fmt.Sprintf("  %-22s %s", p, g.Status)
		if g.Rounds > 0 {
			line += fmt.Sprintf(" (rounds: %d)", g.Rounds)
		}
		if g.Forced {
			line += " [forced]"
		}
		out += line + "\n"
	}
	return out
}

func runValidate(cmd *cobra.Command, args []string) error {
	c, err := buildComponents()
	if err != nil {
		return err
	}
	defer c.logger.Sync()

	var paths []string
	for _, doc := range c.store.All() {
		paths = append(paths, doc.Path)
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no documents to validate")
		return nil
	}

	report, err := c.validate.ValidatePhase("closure", paths, nil)
	if err != nil {
		return err
	}
	for _, d := range report.Defects {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: [%s/%s] %s\n", d.Document, d.Kind, d.Severity, d.Detail)
	}
	if !report.Pass() {
		return fmt.Errorf("validation failed: %d blocking defects", len(report.Blocking()))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "validation passed (%d documents)\n", len(paths))
	return nil
}
