package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/roach88/meshtrace/internal/runid"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Table      string
	Verbose    bool
	Format     string // "json" | "text"

	// Fs is the filesystem for config, survey and output files.
	// If nil, defaults to the OS filesystem.
	Fs afero.Fs

	// LookupEnv overrides environment lookup (for testing).
	// If nil, defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)

	// RunIDs allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs runid.Generator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the meshtrace CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meshtrace",
		Short: "meshtrace - bundle propagation analysis",
		Long: `Reconcile and analyze how bundles propagate between tablets in a
disconnected mesh-sync network.

Typical flow: create-table, import the device manifests, reconcile origins
against the survey records, then graph, stats or timeseries in any order.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				err := NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
				cmd.PrintErrln("Error:", err)
				return err
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVarP(&opts.Table, "table", "t", "", "observation table (overrides config)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Add subcommands
	cmd.AddCommand(NewCreateTableCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewGraphCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewTimeseriesCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
