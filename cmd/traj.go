package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sort"

	"github.com/spf13/cobra"

	"github.com/alexisiddiqui/xMD-HOIP/experiment"
	"github.com/alexisiddiqui/xMD-HOIP/experiment/runner"
)

var (
	trajFlags     identityFlags
	trajOutput    string
	trajReference string
)

var trajCmd = &cobra.Command{
	Use:   "traj",
	Short: "Inspect and join trajectory segments",
}

var trajScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List the segment files of every replicate",
	Args:  cobra.NoArgs,
	RunE:  runTrajScan,
}

var trajLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Print the highest stage index of a replicate",
	Args:  cobra.NoArgs,
	RunE:  runTrajLatest,
}

var trajConcatCmd = &cobra.Command{
	Use:   "concat",
	Short: "Concatenate a replicate's trajectory segments in stage order",
	Args:  cobra.NoArgs,
	RunE:  runTrajConcat,
}

func init() {
	for _, c := range []*cobra.Command{trajScanCmd, trajLatestCmd, trajConcatCmd} {
		registerIdentityFlags(c, &trajFlags)
		trajCmd.AddCommand(c)
	}
	trajConcatCmd.Flags().StringVarP(&trajOutput, "output", "o", "", "Output trajectory (default <suffix>_<code>_cat.<ext> in the replicate dir)")
	trajConcatCmd.Flags().StringVar(&trajReference, "reference", "", "Reference structure (default: first segment's structure file)")
}

func runTrajScan(cmd *cobra.Command, _ []string) error {
	exp, err := openExperiment(cmd, &trajFlags)
	if err != nil {
		return err
	}
	found, err := exp.ScanTrajectoryFiles()
	if err != nil {
		return err
	}
	labels := make([]string, 0, len(found))
	for label := range found {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	out := cmd.OutOrStdout()
	for _, label := range labels {
		files := append([]string(nil), found[label]...)
		sort.Strings(files)
		fmt.Fprintf(out, "%s (%d)\n", label, len(files))
		for _, f := range files {
			fmt.Fprintf(out, "  %s\n", f)
		}
	}
	return nil
}

func runTrajLatest(cmd *cobra.Command, _ []string) error {
	exp, err := openExperiment(cmd, &trajFlags)
	if err != nil {
		return err
	}
	idx, err := exp.LatestTrajectoryIndex("", 0)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), idx)
	return nil
}

func runTrajConcat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	exp, err := openExperiment(cmd, &trajFlags)
	if err != nil {
		return err
	}
	eng, err := experiment.NewEngine(exp.Settings(), newExecutor())
	if err != nil {
		return err
	}
	output, ref, err := runner.New(exp, eng).Concatenate(ctx, trajOutput, trajReference)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (reference %s)\n", output, ref)
	return nil
}
