package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/PatientETL/internal/config"
	"github.com/JonMunkholm/PatientETL/internal/core"
	"github.com/JonMunkholm/PatientETL/internal/database"
	"github.com/JonMunkholm/PatientETL/internal/logging"
	"github.com/JonMunkholm/PatientETL/internal/pipeline"
	"github.com/JonMunkholm/PatientETL/internal/web"
)

// app carries what every subcommand shares. The connector dials on the
// first run step that needs the database, so input errors never do.
type app struct {
	envFile string
	cfg     *config.Config
	logger  *slog.Logger
	conn    *database.LazyConnector
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:               "patientetl",
		Short:             "Ingest patient files and build canonical patient records",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment, if present")

	root.AddCommand(a.ingestCmd(), a.transformCmd(), a.serveCmd())
	return root
}

// setup loads the env file, configuration, and logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.envFile != "" {
		// Overload: values in the file replace the process environment.
		if err := godotenv.Overload(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", a.envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	a.logger.Debug("configuration loaded", "config", cfg.String())
	return nil
}

func (a *app) service() *pipeline.Service {
	if a.conn == nil {
		a.conn = database.NewLazyConnector(a.cfg.Database, a.logger)
	}
	return pipeline.NewService(a.conn, a.cfg, a.logger)
}

func (a *app) close() {
	if a.conn != nil {
		a.conn.Close()
	}
}

func (a *app) ingestCmd() *cobra.Command {
	var (
		file   string
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Read a CSV/XLSX file from the input directory into raw_patient",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(file) == "" {
				return core.FormatError("ingest", errors.New("no file provided"))
			}

			svc := a.service()
			defer a.close()

			res, err := svc.Ingest(cmd.Context(), file, pipeline.IngestOptions{Strict: strict})
			if err != nil {
				return err
			}
			return printResult(cmd, res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "file name inside INGEST_INPUT_DIR")
	cmd.Flags().BoolVar(&strict, "strict", false, "enforce the extension and minimum-row checks")
	return cmd
}

func (a *app) transformCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transform",
		Short: "Project raw_patient into fhir_patient, skipping ids already present",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc := a.service()
			defer a.close()

			res, err := svc.Transform(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd, res)
		},
	}
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the ingest and transform runs over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc := a.service()
			defer a.close()

			// Fail fast rather than on the first request.
			if err := svc.Ping(ctx); err != nil {
				return err
			}

			server := web.NewServer(svc, a.cfg.Server, a.logger)

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("runs did not finish before shutdown", "error", err)
				return err
			}
			return <-errCh
		},
	}
}

func printResult(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
