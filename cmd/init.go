package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/alexisiddiqui/xMD-HOIP/experiment"
)

var (
	initFlags     identityFlags
	initOverwrite bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the directory tree of a trial",
	Long: `init creates the temporary, logs, data, visualisation and analysis trees of a
trial together with one data subdirectory per replicate. Without --overwrite an
existing trial is kept and the next free name (base1, base2, ...) is used.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	registerIdentityFlags(initCmd, &initFlags)
	initCmd.Flags().BoolVar(&initOverwrite, "overwrite", false, "Reuse an existing trial directory")
}

func runInit(cmd *cobra.Command, _ []string) error {
	exp, err := openExperiment(cmd, &initFlags)
	if err != nil {
		return err
	}
	trial, err := exp.CreateDirectoryStructure(initOverwrite)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "trial %s\n", trial)
	for _, kind := range experiment.TrialDirKinds {
		fmt.Fprintf(out, "  %-13s %s\n", kind, exp.Dir(kind))
	}
	logrus.Debugf("settings root %s", exp.Settings().Root)
	return nil
}
