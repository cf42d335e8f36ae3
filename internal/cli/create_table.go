package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCreateTableCommand creates the create-table command.
func NewCreateTableCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-table",
		Short: "Create the observation table",
		Long: `Create the observation table and its indexes in the configured store.

Fails if the table already exists.

Example:
  meshtrace create-table --config meshtrace.yaml --table run_2024_05`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreateTable(rootOpts, cmd)
		},
	}
	return cmd
}

func runCreateTable(opts *RootOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.store.CreateTable(ctx, s.table()); err != nil {
		return s.formatter.Fail("failed to create table", err)
	}
	s.logger.Info("table created", "table", s.table())

	if s.formatter.JSON() {
		return s.formatter.Success(map[string]string{"table": s.table()})
	}
	return s.formatter.Success(fmt.Sprintf("Created table %s", s.table()))
}
