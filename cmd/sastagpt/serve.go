package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/comigor/sastagpt-go/internal/logger"
	"github.com/comigor/sastagpt-go/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve turns and conversations over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := setup(flags, os.Stdout)
			if err != nil {
				return err
			}
			defer cleanup()

			addr := net.JoinHostPort(a.cfg.Server.Host, a.cfg.Server.Port)
			srv := server.New(a.store, a.turns).HTTPServer(addr)
			return serve(cmd.Context(), srv)
		},
	}
}

func serve(ctx context.Context, srv *http.Server) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		logger.L.Info("starting server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("failed to start server", "error", err)
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.L.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
