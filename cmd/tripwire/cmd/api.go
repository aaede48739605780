package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/solatis/tripwire/internal/core/api"
	"github.com/solatis/tripwire/internal/core/httpapi"
	"github.com/solatis/tripwire/internal/core/server"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the schedule management HTTP API",
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
	apiCmd.Flags().String("host", "", "HTTP server host (overrides api.host)")
	apiCmd.Flags().Int("port", 0, "HTTP server port (overrides api.port)")
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.API.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.API.Port, _ = cmd.Flags().GetInt("port")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := api.NewService(store, logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	httpServer, err := server.NewHTTPServer(cfg.API.Host, cfg.API.Port, httpapi.NewRouter(svc, logger), logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info().Str("version", Version).Str("host", cfg.API.Host).Int("port", cfg.API.Port).Msg("starting tripwire api")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpServer.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
