package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/meshtrace/internal/ingest"
)

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <dataset-dir>",
		Short: "Import device manifests into the observation table",
		Long: `Import every rhizome.db found under a dataset directory.

Each tablet's manifest database lives in a directory named after the tablet.
Every manifest row becomes one observation, flagged as a non-origin copy.

Example:
  meshtrace import --config meshtrace.yaml ./dataset`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runImport(opts *RootOptions, root string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	importer := ingest.New(s.store, s.table(),
		ingest.WithLogger(s.logger),
		ingest.WithRunIDs(s.runIDs),
	)
	result, err := importer.BatchImport(ctx, root)
	if err != nil {
		return s.formatter.Fail("import failed", err)
	}

	if s.formatter.JSON() {
		return s.formatter.SuccessWithRun(result.RunID, result)
	}

	w := s.formatter.Writer
	for _, f := range result.Files {
		fmt.Fprintf(w, "%s: %d rows (%s)\n", f.TabletID, f.Inserted, f.Path)
	}
	fmt.Fprintf(w, "Imported %d rows from %d databases into %s\n", result.Total, len(result.Files), s.table())
	return nil
}
