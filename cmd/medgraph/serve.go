package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr        string
		initialize  bool
		apiKey      string
		corsOrigins string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the question answering API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			if initialize {
				if err := e.Initialize(ctx); err != nil {
					// The server still starts; POST /initialize can retry.
					slog.Error("medgraph: initial index build failed", "error", err)
				}
			}

			if apiKey == "" {
				apiKey = a.v.GetString("api-key")
			}
			if corsOrigins == "" {
				corsOrigins = a.v.GetString("cors-origins")
			}
			handler := newRouter(e, a.metrics, routerOptions{
				APIKey:      apiKey,
				CORSOrigins: splitOrigins(corsOrigins),
			})

			srv := &http.Server{
				Addr:         addr,
				Handler:      handler,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 0, // initialization can outlast any fixed limit
				IdleTimeout:  120 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				slog.Info("server starting", "addr", addr)
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			slog.Info("shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("server shutdown error", "error", err)
			}
			slog.Info("server stopped")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", ":8080", "listen address")
	f.BoolVar(&initialize, "init", false, "build the index before accepting requests")
	f.StringVar(&apiKey, "api-key", "", "require this bearer token (env MEDGRAPH_API_KEY)")
	f.StringVar(&corsOrigins, "cors-origins", "", "comma-separated allowed CORS origins (env MEDGRAPH_CORS_ORIGINS)")
	return cmd
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
