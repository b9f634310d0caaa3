package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ericfisherdev/prinsights/internal/config"
)

// Log formats accepted by --log-format.
const (
	logFormatConsole = "console"
	logFormatJSONL   = "jsonl"
)

// app carries the global flags and the loaded configuration between the
// persistent pre-run and the subcommands.
type app struct {
	out io.Writer

	configPath   string
	logFormat    string
	debug        bool
	artifactsDir string

	cfg *config.Config
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "prinsights",
		Short: "Pull request analytics for Azure DevOps and GitHub",
		Long: `prinsights extracts closed pull requests into a local SQLite database and
builds a dataset of weekly rollups, distributions, forecasts and insights.

Typical workflow:
  prinsights extract --organization contoso --projects Platform --pat $PAT
  prinsights generate-aggregates --output dataset --enable-predictions
  prinsights validate-dataset --dataset dataset`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setupLogging(cmd.ErrOrStderr()); err != nil {
				return err
			}
			if cmd.Name() == "validate-dataset" {
				return nil
			}

			cfg, err := config.Load(a.configPath)
			if err != nil {
				if cmd.Name() == "extract" {
					a.writeEarlySummary(err)
				}
				return err
			}
			if cmd.Flags().Changed("artifacts-dir") {
				cfg.ArtifactsDir = a.artifactsDir
			}
			a.cfg = cfg
			return nil
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	pf.StringVar(&a.logFormat, "log-format", logFormatConsole, "log format: console or jsonl")
	pf.BoolVar(&a.debug, "debug", false, "enable debug logging")
	pf.StringVar(&a.artifactsDir, "artifacts-dir", config.DefaultArtifactsDir, "directory for run artifacts")

	root.AddCommand(
		newExtractCmd(a),
		newAggregatesCmd(a),
		newValidateCmd(a),
	)

	return root
}

// setupLogging installs the default slog logger for the selected format.
func (a *app) setupLogging(w io.Writer) error {
	level := slog.LevelInfo
	if a.debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch a.logFormat {
	case logFormatConsole:
		handler = slog.NewTextHandler(w, opts)
	case logFormatJSONL:
		handler = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("unknown log format %q (want %s or %s)", a.logFormat, logFormatConsole, logFormatJSONL)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

var (
	green = color.New(color.FgGreen, color.Bold)
	red   = color.New(color.FgRed, color.Bold)
)

// printStatus writes the final one-line status of a command.
func (a *app) printStatus(err error, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		red.Fprintf(a.out, "✗ %s: %v\n", msg, err)
		return
	}
	green.Fprintf(a.out, "✓ %s\n", msg)
}
