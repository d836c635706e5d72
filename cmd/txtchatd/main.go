// Command `txtchatd` serves the txtchat query pipeline on a Unix socket.
//
// It probes which transports can run on this host once at startup, then
// answers the JSON API of pkg/api until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lc/txtchat/internal/buildinfo"
	"github.com/lc/txtchat/internal/config"
	"github.com/lc/txtchat/internal/engine"
	"github.com/lc/txtchat/internal/log"
	"github.com/lc/txtchat/pkg/api"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("txtchatd: %v", err)
	}
}

func run() error {
	// load config
	provider := config.New()
	cfg, err := provider.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log.Info("starting", "version", buildinfo.Version, "config", provider.Path())

	// build deps
	eng, err := engine.NewFromConfig(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng.Run(ctx)
	defer eng.Close()

	// start the api over unix socket
	apiSrv := api.New(eng)
	sockPath := cfg.Socket.Path

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "socket", sockPath)
		if err := apiSrv.ListenAndServe(sockPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down…")

		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := apiSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
