package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/unrest/internal/api"
)

var (
	serveResume       bool
	serveFromSnapshot string
	servePort         int
)

// serveCmd runs the simulation in real time behind the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulation in real time and serve the HTTP API",
	Long: `Serve advances one tick every run.tick_interval (scaled by the speed set
through POST /api/v1/speed) and serves the world over HTTP. The run is saved
every run.report_every ticks and on SIGINT/SIGTERM.

Admin endpoints need UNREST_ADMIN_KEY.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveResume, "resume", false, "Resume the latest run in the database")
	serveCmd.Flags().StringVar(&serveFromSnapshot, "from-snapshot", "", "Start from a snapshot file")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (overrides api.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}

	s, err := openSession(cfg, serveResume, serveFromSnapshot)
	if err != nil {
		return err
	}
	defer s.Close()

	eng := s.newEngine()
	if cfg.Run.MaxTicks > 0 {
		eng.MaxTicks = s.sim.Tick() + cfg.Run.MaxTicks
	}

	srv := &api.Server{
		Sim:         s.sim,
		Eng:         eng,
		DB:          s.db,
		Saver:       s.saver,
		RunID:       s.runID,
		SnapshotDir: cfg.Storage.SnapshotDir,
		Port:        cfg.API.Port,
		AdminKey:    cfg.API.AdminKey,
	}
	srv.Start()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := eng.Run(gctx); err != nil {
			return err
		}
		if gctx.Err() == nil {
			// Tick budget reached: keep serving the final state until signalled.
			slog.Info("tick budget reached, still serving", "tick", s.sim.Tick())
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown", "error", err)
		}
		return nil
	})
	runErr := g.Wait()

	s.save()
	slog.Info("shutdown complete", "tick", s.sim.Tick())
	return runErr
}
