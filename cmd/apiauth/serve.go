package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/upb/apiauth/routes"
	"go.uber.org/zap"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deps, err := c.dependencies(cmd)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:         c.cfg.Server.Address(),
				Handler:      routes.SetupRoutes(deps),
				ReadTimeout:  c.cfg.Server.ReadTimeout,
				WriteTimeout: c.cfg.Server.WriteTimeout,
			}

			serveErr := make(chan error, 1)
			go func() {
				c.logger.Info("server listening",
					zap.String("addr", srv.Addr),
					zap.Bool("tls", c.cfg.Server.TLS.Enabled),
					zap.String("environment", c.cfg.Environment))
				if c.cfg.Server.TLS.Enabled {
					serveErr <- srv.ListenAndServeTLS(c.cfg.Server.TLS.CertFile, c.cfg.Server.TLS.KeyFile)
					return
				}
				serveErr <- srv.ListenAndServe()
			}()

			select {
			case err := <-serveErr:
				if !errors.Is(err, http.ErrServerClosed) {
					_ = deps.Close(context.Background())
					return fmt.Errorf("server error: %w", err)
				}
			case <-ctx.Done():
				c.logger.Info("shutting down server")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.Server.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				c.logger.Error("server shutdown failed", zap.Error(err))
			}
			return deps.Close(shutdownCtx)
		},
	}
}
