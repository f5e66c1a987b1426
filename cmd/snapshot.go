package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alexisiddiqui/xMD-HOIP/experiment"
)

var (
	snapshotFlags  identityFlags
	snapshotLatest bool
	snapshotIndex  int
	snapshotPath   string
	snapshotName   string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Save, list and inspect experiment snapshots",
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the snapshots in the trial's logs directory, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotList,
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a snapshot as YAML",
	Long: `show prints one snapshot. --path wins over --latest, which wins over --index;
with none of them the earliest snapshot is shown. A negative index counts
from the newest snapshot.`,
	Args: cobra.NoArgs,
	RunE: runSnapshotShow,
}

var snapshotSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Scan the trial's trajectories and write a new snapshot",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotSave,
}

func init() {
	for _, c := range []*cobra.Command{snapshotListCmd, snapshotShowCmd, snapshotSaveCmd} {
		registerIdentityFlags(c, &snapshotFlags)
		snapshotCmd.AddCommand(c)
	}
	snapshotShowCmd.Flags().BoolVar(&snapshotLatest, "latest", false, "Show the newest snapshot")
	snapshotShowCmd.Flags().IntVar(&snapshotIndex, "index", 0, "Position in creation order (negative counts from the end)")
	snapshotShowCmd.Flags().StringVar(&snapshotPath, "path", "", "Explicit snapshot file")
	snapshotSaveCmd.Flags().StringVar(&snapshotName, "stem", "", "Snapshot stem (default <parent>_<code>_<trial>_<replicate>)")
}

func runSnapshotList(cmd *cobra.Command, _ []string) error {
	exp, err := openExperiment(cmd, &snapshotFlags)
	if err != nil {
		return err
	}
	files, err := experiment.ListSnapshots(exp.Dir(experiment.DirLogs), exp.Settings().SnapshotExt)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(files) == 0 {
		fmt.Fprintf(out, "no snapshots in %s\n", exp.Dir(experiment.DirLogs))
		return nil
	}
	for i, f := range files {
		age := ""
		if info, err := os.Stat(f); err == nil {
			age = humanize.Time(info.ModTime())
		}
		fmt.Fprintf(out, "%3d  %-50s %s\n", i, filepath.Base(f), age)
	}
	return nil
}

func runSnapshotShow(cmd *cobra.Command, _ []string) error {
	exp, err := openExperiment(cmd, &snapshotFlags)
	if err != nil {
		return err
	}
	opts := experiment.LoadOptions{Path: snapshotPath, Latest: snapshotLatest}
	if cmd.Flags().Changed("index") {
		idx := snapshotIndex
		opts.Index = &idx
	}
	st, err := exp.Load(opts)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(st); err != nil {
		return err
	}
	return enc.Close()
}

// runSnapshotSave records the on-disk trajectory state without running anything,
// e.g. after segments were pulled from a store.
func runSnapshotSave(cmd *cobra.Command, _ []string) error {
	exp, err := openExperiment(cmd, &snapshotFlags)
	if err != nil {
		return err
	}
	if _, err := exp.ScanTrajectoryFiles(); err != nil {
		return err
	}
	path, err := exp.Save(snapshotName)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
