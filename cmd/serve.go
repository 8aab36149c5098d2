package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fatgo/api"
	"fatgo/host"
)

var (
	activate bool
	every    string
	at       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server (analyze endpoint, run history, event stream, viewer)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&activate, "activate", false, "run the analysis once on startup")
	serveCmd.Flags().StringVar(&every, "every", "", "also run the analysis on an interval, e.g. 30m or 1h30m")
	serveCmd.Flags().StringVar(&at, "at", "", "also run the analysis daily at HH:MM")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.OutOrStdout(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedule := a.cfg.Schedule
	if every != "" || at != "" {
		schedule = &host.Schedule{Every: every, At: at}
	}
	if schedule != nil {
		scheduler, err := host.NewScheduler(*schedule, a.log.Named("scheduler"))
		if err != nil {
			return fmt.Errorf("invalid schedule: %w", err)
		}
		host.Bind(scheduler, a.orchestrator, a.workspace)
		go scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	if activate {
		activation := host.NewActivation()
		host.Bind(activation, a.orchestrator, a.workspace)
		go func() {
			if err := activation.Start(ctx); err != nil {
				a.log.Error("activation run failed", zap.Error(err))
			}
		}()
	}

	server := &http.Server{
		Addr: ":" + a.cfg.Server.Port,
		Handler: api.NewRouter(api.Deps{
			Store:     a.store,
			Commands:  a.commands,
			Workspace: a.workspace,
			Broker:    a.broker,
			Viewer:    a.viewer,
			Logger:    a.log.Named("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("starting server", zap.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		a.log.Info("server stopped")
	}
	return nil
}
