package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/roach88/meshtrace/internal/config"
	"github.com/roach88/meshtrace/internal/fault"
	"github.com/roach88/meshtrace/internal/runid"
	"github.com/roach88/meshtrace/internal/store"
)

// session is the per-command state shared by every subcommand: validated
// configuration, logger, output formatter and one open store.
type session struct {
	cfg       *config.Config
	store     *store.Store
	logger    *slog.Logger
	formatter *OutputFormatter
	fs        afero.Fs
	runIDs    runid.Generator
}

// openSession loads and validates configuration, then opens the store.
// Callers must Close the session.
func openSession(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*session, error) {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	runIDs := opts.RunIDs
	if runIDs == nil {
		runIDs = runid.UUIDv7Generator{}
	}

	cfg, err := config.NewLoader(fs, opts.LookupEnv).Load(opts.ConfigPath)
	if err != nil {
		return nil, formatter.Fail("failed to load configuration", err)
	}
	if opts.Table != "" {
		cfg.Analysis.Table = opts.Table
	}
	if err := cfg.Validate(); err != nil {
		return nil, formatter.Fail("invalid configuration", err)
	}

	logger := newLogger(formatter.GetErrWriter(), opts.Verbose)

	logger.Debug("opening store", "driver", cfg.DB.Driver, "table", cfg.Analysis.Table)
	st, err := store.Open(ctx, cfg.Store())
	if err != nil {
		return nil, formatter.Fail("failed to open store", err)
	}

	return &session{
		cfg:       cfg,
		store:     st,
		logger:    logger,
		formatter: formatter,
		fs:        fs,
		runIDs:    runIDs,
	}, nil
}

// Close releases the store.
func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing store", "error", err)
	}
}

// table returns the configured observation table.
func (s *session) table() string {
	return s.cfg.Analysis.Table
}

// newLogger configures slog at Info, or Debug when verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	return slog.New(handler)
}

// commandContext returns the command's context, or Background if unset.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// createOutput opens path for writing on fs, refusing to replace an existing file.
func createOutput(fs afero.Fs, path string) (afero.File, error) {
	f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, fault.Newf(fault.KindConfiguration, "cli", "output file %s already exists", path)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, "cli", fmt.Sprintf("unable to create output file %s", path), err)
	}
	return f, nil
}
