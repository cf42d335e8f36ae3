package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/meshtrace/internal/fault"
	"github.com/roach88/meshtrace/internal/reconcile"
)

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile <survey-dir>",
		Short: "Mark origins from survey records and purge orphan bundles",
		Long: `Mark the origin copy of every bundle named by a survey record, then
delete every bundle that still has no origin.

Survey records are laid out as <survey-dir>/<tablet_id>/<subdir>/<name>.
Records with no matching observation are reported as warnings. Running
reconcile twice marks nothing new.

Example:
  meshtrace reconcile --config meshtrace.yaml ./survey`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runReconcile(opts *RootOptions, surveyRoot string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	r := reconcile.New(s.store, s.table(),
		reconcile.WithFs(s.fs),
		reconcile.WithOptions(reconcile.Options{
			Suffix: s.cfg.Analysis.FileNameSuffix,
			Ext:    s.cfg.Analysis.SurveyExt,
		}),
		reconcile.WithLogger(s.logger),
		reconcile.WithRunIDs(s.runIDs),
	)
	result, err := r.Reconcile(ctx, surveyRoot)
	if err != nil {
		if result == nil {
			return s.formatter.Fail("reconcile failed", err)
		}
		// Warnings gathered before the abort are still reported
		if !s.formatter.JSON() {
			writeWarnings(s.formatter.GetErrWriter(), result.Warnings)
		}
		return s.formatter.FailWithDetails("reconcile failed", err, result)
	}

	if s.formatter.JSON() {
		return s.formatter.SuccessWithRun(result.RunID, result)
	}

	w := s.formatter.Writer
	writeWarnings(w, result.Warnings)
	fmt.Fprintf(w, "Survey files: %d\n", result.SurveyFiles)
	fmt.Fprintf(w, "Origins marked: %d (already marked: %d)\n", result.Marked, result.AlreadyMarked)
	fmt.Fprintf(w, "Unmatched survey files: %d\n", len(result.Warnings))
	fmt.Fprintf(w, "Purged bundles: %d (%d rows)\n", len(result.Purged), result.PurgedRows())
	return nil
}

func writeWarnings(w io.Writer, warnings []fault.Warning) {
	for _, warn := range warnings {
		fmt.Fprintf(w, "warning %s\n", warn)
	}
}
