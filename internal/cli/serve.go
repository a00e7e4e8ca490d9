package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	appLog "eventcal/internal/log"
	"eventcal/internal/web"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled ICS importer",
		Long: `Run the HTTP API and the scheduled ICS importer.

Configured feeds are imported once at startup and then on import_cron.
SIGINT or SIGTERM shuts the server down gracefully.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func runServe(parent context.Context, opts *RootOptions, listen string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	a, err := openApp(ctx, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "startup failed", err)
	}
	defer a.Close()

	// CLI --listen overrides config file listen if provided.
	if listen != "" {
		a.cfg.Listen = listen
	}
	appLog.Info("eventcal starting", "listen", a.cfg.Listen, "store", a.cfg.Store.Driver, "imports", len(a.cfg.Imports))

	if len(a.cfg.Imports) > 0 {
		if _, err := a.importer.Schedule(ctx, a.cfg.ImportCron); err != nil {
			return WrapExitError(ExitCommandError, "startup failed", err)
		}
		go func() {
			if _, err := a.importer.Run(ctx); err != nil {
				appLog.Warn("initial import had errors", "err", err)
			}
		}()
	}

	if a.cfg.BasicAuth == nil {
		appLog.Warn("basic_auth not configured; organizer routes rely on the proxy X-User-ID header")
	}
	srv := web.NewServer(a.cfg, a.svc)
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "http server failed", err)
	}
	appLog.Info("eventcal exiting")
	return nil
}
