package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/talgya/unrest/internal/agents"
	"github.com/talgya/unrest/internal/persistence"
)

var (
	inspectJSON   bool
	inspectHeader bool
)

// inspectCmd summarizes a snapshot file
var inspectCmd = &cobra.Command{
	Use:   "inspect <snapshot>",
	Short: "Print a summary of a snapshot file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if inspectHeader {
			return printHeader(cmd.OutOrStdout(), args[0])
		}
		snap, err := persistence.ReadSnapshot(args[0])
		if err != nil {
			return err
		}
		sum := summarize(snap)
		if inspectJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		}
		return sum.print(cmd.OutOrStdout())
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Print the summary as JSON")
	inspectCmd.Flags().BoolVar(&inspectHeader, "header", false, "Only read the header line (run, tick, version)")
}

// printHeader decodes just the snapshot header, skipping the agent body.
func printHeader(w io.Writer, path string) error {
	h, err := persistence.ReadHeader(path)
	if err != nil {
		return err
	}
	if inspectJSON {
		return json.NewEncoder(w).Encode(h)
	}
	_, err = fmt.Fprintf(w, "run %s tick %d (snapshot v%d)\n", h.RunID, h.Tick, h.Version)
	return err
}

type snapshotSummary struct {
	RunID         string  `json:"run_id"`
	Tick          uint64  `json:"tick"`
	Seed          int64   `json:"seed"`
	Grid          string  `json:"grid"`
	Citizens      int     `json:"citizens"`
	Cops          int     `json:"cops"`
	Radicalizers  int     `json:"radicalizers"`
	Quiescent     int     `json:"quiescent"`
	Active        int     `json:"active"`
	Jailed        int     `json:"jailed"`
	Radicalized   int     `json:"radicalized"`
	MeanGrievance float64 `json:"mean_grievance"`
}

func summarize(snap persistence.Snapshot) snapshotSummary {
	topology := "bounded"
	if snap.Torus {
		topology = "torus"
	}
	sum := snapshotSummary{
		RunID: snap.Header.RunID,
		Tick:  snap.Header.Tick,
		Seed:  snap.Seed,
		Grid:  fmt.Sprintf("%dx%d %s", snap.Width, snap.Height, topology),
	}

	var grievance float64
	for _, r := range snap.Agents {
		switch r.Breed {
		case agents.BreedCop:
			sum.Cops++
			continue
		case agents.BreedRadicalizer:
			sum.Radicalizers++
			continue
		}
		sum.Citizens++
		grievance += r.Grievance
		if r.Condition == agents.Active {
			sum.Active++
		} else {
			sum.Quiescent++
		}
		if r.JailSentence > 0 {
			sum.Jailed++
		}
		if r.Radicalized {
			sum.Radicalized++
		}
	}
	if sum.Citizens > 0 {
		sum.MeanGrievance = grievance / float64(sum.Citizens)
	}
	return sum
}

func (s snapshotSummary) print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := []struct {
		k string
		v any
	}{
		{"run", s.RunID},
		{"tick", s.Tick},
		{"seed", s.Seed},
		{"grid", s.Grid},
		{"citizens", s.Citizens},
		{"  quiescent", s.Quiescent},
		{"  active", s.Active},
		{"  jailed", s.Jailed},
		{"  radicalized", s.Radicalized},
		{"cops", s.Cops},
		{"radicalizers", s.Radicalizers},
		{"mean grievance", fmt.Sprintf("%.4f", s.MeanGrievance)},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%v\n", r.k, r.v)
	}
	return tw.Flush()
}
