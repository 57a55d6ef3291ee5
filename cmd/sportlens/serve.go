package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/sportlens/internal/app"
	"github.com/suPer8Hu/sportlens/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the local API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := bootstrap(ctx, app.Options{Queue: true})
		if err != nil {
			return err
		}
		defer a.Close()
		defer a.Log.Sync()

		if report, err := a.MigrateLegacyIDs(); err != nil {
			a.Log.Error("legacy id migration failed", "error", err)
		} else if len(report.Mapping) > 0 {
			a.Log.Info("legacy chat ids migrated", "count", len(report.Mapping))
		}

		sess, ok, err := flagSession(a)
		if err != nil {
			return err
		}
		if ok {
			a.Sessions.SignIn(sess)
		}

		srv := &http.Server{
			Addr:              a.Cfg.HTTPAddr,
			Handler:           httpapi.NewRouter(a),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			a.Log.Info("listening", "addr", a.Cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			return err
		}

		// graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
