package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/meshtrace/internal/propagation"
)

// GraphOptions holds flags for the graph command.
type GraphOptions struct {
	*RootOptions
	Output string
	Window time.Duration
}

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GraphOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "graph [file-id]",
		Short: "Render the propagation graph of a bundle",
		Long: `Cluster the copies of a bundle into dissemination waves and render
them as a Graphviz DOT digraph.

Without a file id the most replicated bundle is used. The sync window
defaults to analysis.sync_window from the configuration. The output file is
never overwritten.

Examples:
  meshtrace graph --config meshtrace.yaml -o wave.dot
  meshtrace graph --config meshtrace.yaml --window 1m F1 | dot -Tsvg > F1.svg`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var fileID string
			if len(args) == 1 {
				fileID = args[0]
			}
			return runGraph(opts, fileID, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write DOT to this file instead of stdout")
	cmd.Flags().DurationVar(&opts.Window, "window", 0, "sync window (overrides config)")

	return cmd
}

func runGraph(opts *GraphOptions, fileID string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	s, err := openSession(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	window := opts.Window
	if window <= 0 {
		window = s.cfg.Analysis.Window()
	}

	g, err := propagation.NewClusterer(s.store, s.table(), s.logger).Build(ctx, fileID, window)
	if err != nil {
		return s.formatter.Fail("failed to build propagation graph", err)
	}
	s.logger.Debug("graph built", "file_id", g.FileID, "clusters", len(g.Clusters))

	if opts.Output != "" {
		if err := g.WriteFile(s.fs, opts.Output); err != nil {
			return s.formatter.Fail("failed to write graph", err)
		}
		if s.formatter.JSON() {
			return s.formatter.Success(g)
		}
		return s.formatter.Success(fmt.Sprintf("Wrote graph of %s (%d clusters) to %s", g.FileID, len(g.Clusters), opts.Output))
	}

	if s.formatter.JSON() {
		return s.formatter.Success(g)
	}
	if err := g.WriteDOT(s.formatter.Writer); err != nil {
		return s.formatter.Fail("failed to write graph", err)
	}
	return nil
}
