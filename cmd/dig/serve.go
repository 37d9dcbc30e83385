package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KohakuBlueleaf/DIG/internal/artifact"
	"github.com/KohakuBlueleaf/DIG/internal/server"
	"github.com/KohakuBlueleaf/DIG/internal/telemetry"
)

var (
	flagHost string
	flagPort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dispatch server",
	Long:  "Start the HTTP broker. Requestors POST prompts, workers claim tasks\nand upload results, downloaders fetch the stored WebP artifacts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.Host = flagHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = flagPort
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := telemetry.Init(ctx, "dig", version, cfg.OTELEnabled); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			telemetry.Shutdown(shutdownCtx)
		}()

		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("failed to close task database", "error", err)
			}
		}()

		sink, err := artifact.NewFileSink(cfg.ImagesDir)
		if err != nil {
			return err
		}

		srv := server.New(store, sink, logger)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Start(cfg.Addr())
		})
		g.Go(func() error {
			<-ctx.Done()
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagHost, "host", "0.0.0.0", "listen address")
	serveCmd.Flags().IntVar(&flagPort, "port", 8000, "listen port")
	rootCmd.AddCommand(serveCmd)
}
