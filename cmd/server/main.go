package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"mealzee-auth/internal/config"
	"mealzee-auth/internal/factory"
	"mealzee-auth/internal/util"
)

const shutdownTimeout = 30 * time.Second

func main() {
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()
	router := f.Router()

	servers := []*http.Server{buildServer(cfg, router)}
	if cfg.Server.EnableTLS {
		servers[0].TLSConfig = f.TLSManager().GetTLSConfig()
		if cfg.Server.AutoCert {
			// Port 80 answers ACME HTTP-01 challenges and redirects the rest.
			servers = append(servers, &http.Server{
				Addr:              ":80",
				Handler:           f.TLSManager().HTTPHandler(nil),
				ReadHeaderTimeout: 10 * time.Second,
			})
		}
	} else {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	f.Start()

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			util.Info("Server listening",
				util.String("address", srv.Addr),
				util.Bool("tls", srv.TLSConfig != nil),
			)
			var err error
			if srv.TLSConfig != nil {
				err = srv.ListenAndServeTLS("", "")
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		util.Info("Shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				util.Error("Failed to shutdown server gracefully", util.String("address", srv.Addr), util.ErrorField(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		util.Error("Server stopped with error", util.ErrorField(err))
		f.Close()
		os.Exit(1)
	}
	util.Info("Server shutdown completed")
}

func buildServer(cfg *config.Config, handler http.Handler) *http.Server {
	addr := cfg.GetServerAddress()
	if cfg.Server.EnableTLS {
		addr = fmt.Sprintf(":%d", cfg.Server.TLSPort)
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}
