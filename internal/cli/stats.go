package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/meshtrace/internal/stats"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Compute the statistics battery",
		Long: `Compute the aggregate metrics of the observation table from one
consistent snapshot: counts, data sizes, resilient copy counts, propagation
delays and the files missing from the reference tablet.

Example:
  meshtrace stats --config meshtrace.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, cmd)
		},
	}
	return cmd
}

func runStats(opts *RootOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	engine := stats.NewEngine(s.store, s.table(), s.cfg.Analysis.ReferenceTablet, s.logger)
	report, err := engine.Compute(ctx)
	if err != nil {
		return s.formatter.Fail("statistics failed", err)
	}

	if s.formatter.JSON() {
		return s.formatter.Success(report)
	}
	return report.WriteText(s.formatter.Writer)
}
