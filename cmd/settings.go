package cmd

import (
	"errors"
	"io/fs"
	"os"

	"github.com/alexisiddiqui/xMD-HOIP/experiment"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// defaultSettingsFile is picked up from the working directory when --settings is not given.
const defaultSettingsFile = "settings.yaml"

// loadSettings resolves the base settings: an explicit path, else
// ./settings.yaml when present, else the built-in GROMACS defaults.
func loadSettings(path string) (experiment.Settings, error) {
	if path != "" {
		return experiment.LoadSettings(path)
	}
	if _, err := os.Stat(defaultSettingsFile); err == nil {
		logrus.Debugf("using %s", defaultSettingsFile)
		return experiment.LoadSettings(defaultSettingsFile)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return experiment.Settings{}, err
	}
	return experiment.GromacsSettings(), nil
}

// identityFlags are the trial-selection flags shared by several subcommands.
type identityFlags struct {
	replicate int
	code      string
	name      string
	suffix    string
	search    string
	gpu       bool
}

func registerIdentityFlags(c *cobra.Command, f *identityFlags) {
	c.Flags().IntVarP(&f.replicate, "replicate", "R", 1, "Replicate index (1..replicates)")
	c.Flags().StringVarP(&f.code, "code", "P", "", "PDB/system code")
	c.Flags().StringVarP(&f.name, "name", "N", "", "Trial name")
	c.Flags().StringVarP(&f.suffix, "suffix", "S", "", "Segment name prefix of engine outputs")
	c.Flags().StringVarP(&f.search, "search", "s", "", "Topology search token")
}

// overrides turns the flags the user actually set into Settings overrides.
// Flags left at their defaults never replace values from the settings file.
func (f *identityFlags) overrides(c *cobra.Command) experiment.Overrides {
	var o experiment.Overrides
	flags := c.Flags()
	if flags.Changed("code") {
		o.Code = f.code
	}
	if flags.Changed("name") {
		o.TrialName = f.name
	}
	if flags.Changed("suffix") {
		o.Suffix = f.suffix
	}
	if flags.Changed("search") {
		o.Search = f.search
	}
	if flags.Lookup("gpu") != nil && flags.Changed("gpu") {
		gpu := f.gpu
		o.GPU = &gpu
	}
	if rootDir != "" {
		o.Root = rootDir
	}
	return o
}

// resolveSettings loads the base settings and applies the command's overrides.
func resolveSettings(c *cobra.Command, f *identityFlags) (experiment.Settings, error) {
	s, err := loadSettings(settingsPath)
	if err != nil {
		return experiment.Settings{}, err
	}
	s = s.WithOverrides(f.overrides(c))
	if err := s.Validate(); err != nil {
		return experiment.Settings{}, err
	}
	return s, nil
}

// openExperiment builds the experiment selected by the identity flags.
func openExperiment(c *cobra.Command, f *identityFlags) (*experiment.Experiment, error) {
	s, err := resolveSettings(c, f)
	if err != nil {
		return nil, err
	}
	return experiment.New(s, experiment.Identity{Replicate: f.replicate})
}
