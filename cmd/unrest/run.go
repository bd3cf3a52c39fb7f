package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	runResume       bool
	runFromSnapshot string
	runSnapshotOut  string
	runTicks        uint64
)

// runCmd steps the simulation headless and persists the results
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation headless for a fixed number of ticks",
	Long: `Run steps the simulation as fast as possible for run.max_ticks ticks
(or --ticks), saving tick stats, events and agents every run.report_every
ticks and once more at the end. Interrupting saves before exiting.`,
	RunE: runHeadless,
}

func init() {
	runCmd.Flags().BoolVar(&runResume, "resume", false, "Resume the latest run in the database")
	runCmd.Flags().StringVar(&runFromSnapshot, "from-snapshot", "", "Start from a snapshot file")
	runCmd.Flags().StringVar(&runSnapshotOut, "snapshot", "", "Write a snapshot file when the run ends")
	runCmd.Flags().Uint64Var(&runTicks, "ticks", 0, "Ticks to run (overrides run.max_ticks)")
}

func runHeadless(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runTicks > 0 {
		cfg.Run.MaxTicks = runTicks
	}

	s, err := openSession(cfg, runResume, runFromSnapshot)
	if err != nil {
		return err
	}
	defer s.Close()

	eng := s.newEngine()
	eng.Interval = 0
	if cfg.Run.MaxTicks > 0 {
		eng.MaxTicks = s.sim.Tick() + cfg.Run.MaxTicks
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := eng.Run(ctx)
	s.sim.Report()
	s.save()
	if runSnapshotOut != "" {
		if err := s.writeSnapshot(runSnapshotOut); err != nil {
			return err
		}
	}
	return runErr
}
