package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/alexisiddiqui/xMD-HOIP/experiment/ledger"
)

var (
	historyCode   string
	historyTrial  string
	historyLimit  int
	historyStages bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs from the ledger, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVarP(&historyCode, "code", "P", "", "Only runs of this system code")
	historyCmd.Flags().StringVarP(&historyTrial, "name", "N", "", "Only runs of this trial")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of runs (0 = all)")
	historyCmd.Flags().BoolVar(&historyStages, "stages", false, "Also list each run's stages")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if ledgerPath == "" {
		return fmt.Errorf("--ledger is required")
	}
	led, err := ledger.Open(ledgerPath)
	if err != nil {
		return err
	}
	defer func() { _ = led.Close() }()

	runs, err := led.Runs(cmd.Context(), ledger.Filter{Code: historyCode, Trial: historyTrial, Limit: historyLimit})
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tCODE\tTRIAL\tREP\tSTATE\tSTARTED\tTOOK\tERROR")
	for _, r := range runs {
		took := "-"
		if !r.Finished.IsZero() {
			took = humanize.RelTime(r.Started, r.Finished, "", "")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			shortID(r.ID), r.Code, r.Trial, r.Replicate, r.State, humanize.Time(r.Started), took, r.Error)
		if !historyStages {
			continue
		}
		stages, err := led.Stages(cmd.Context(), r.ID)
		if err != nil {
			return err
		}
		for _, s := range stages {
			done := "incomplete"
			if s.Completed {
				done = "completed"
			}
			fmt.Fprintf(w, "\t\t\t\tstage %d\t%s\t%s\t%s\n", s.Index, s.Config, done, s.Archive)
		}
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
