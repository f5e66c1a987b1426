package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/alexisiddiqui/xMD-HOIP/experiment"
	"github.com/alexisiddiqui/xMD-HOIP/experiment/artifact"
	"github.com/alexisiddiqui/xMD-HOIP/experiment/metrics"
)

var (
	syncFlags       identityFlags
	syncDriver      string
	syncStoreRoot   string
	syncBucket      string
	syncRegion      string
	syncEndpoint    string
	syncPathStyle   bool
	syncConcurrency int
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Copy a replicate's data directory to or from an artifact store",
	Long: `sync mirrors <data>/<parent>/<code>/<trial>/<replicate> to the store key prefix
<parent>/<code>/<trial>/<replicate>. Files whose size already matches on the
other side are skipped; engine backup files are never copied.

The s3 driver reads XMD_S3_BUCKET, XMD_S3_REGION, XMD_S3_ENDPOINT and
XMD_S3_PATH_STYLE; flags override them. Credentials come from the standard
AWS credential chain.`,
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload the replicate's data directory",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, _ []string) error { return runSync(cmd, artifact.DirectionPush) },
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download the replicate's data directory",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, _ []string) error { return runSync(cmd, artifact.DirectionPull) },
}

func init() {
	for _, c := range []*cobra.Command{syncPushCmd, syncPullCmd} {
		registerIdentityFlags(c, &syncFlags)
		syncCmd.AddCommand(c)
	}
	syncCmd.PersistentFlags().StringVar(&syncDriver, "driver", string(artifact.DriverFilesystem), "Store backend: fs or s3")
	syncCmd.PersistentFlags().StringVar(&syncStoreRoot, "store", "", "fs driver: base directory of the store")
	syncCmd.PersistentFlags().StringVar(&syncBucket, "bucket", "", "s3 driver: bucket name")
	syncCmd.PersistentFlags().StringVar(&syncRegion, "region", "", "s3 driver: region")
	syncCmd.PersistentFlags().StringVar(&syncEndpoint, "endpoint", "", "s3 driver: custom endpoint, e.g. MinIO")
	syncCmd.PersistentFlags().BoolVar(&syncPathStyle, "path-style", false, "s3 driver: use path-style addressing")
	syncCmd.PersistentFlags().IntVar(&syncConcurrency, "concurrency", artifact.DefaultConcurrency, "Parallel transfers")
}

// storeConfig merges the sync flags over the XMD_S3_* environment.
func storeConfig(cmd *cobra.Command) artifact.Config {
	cfg := artifact.Config{Driver: artifact.Driver(syncDriver), Root: syncStoreRoot}
	if cfg.Driver == artifact.DriverS3 {
		cfg.S3 = artifact.S3ConfigFromEnv()
		if syncBucket != "" {
			cfg.S3.Bucket = syncBucket
		}
		if syncRegion != "" {
			cfg.S3.Region = syncRegion
		}
		if syncEndpoint != "" {
			cfg.S3.Endpoint = syncEndpoint
		}
		if cmd.Flags().Changed("path-style") {
			cfg.S3.PathStyle = syncPathStyle
		}
	}
	return cfg
}

func runSync(cmd *cobra.Command, direction string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	exp, err := openExperiment(cmd, &syncFlags)
	if err != nil {
		return err
	}
	local, err := exp.ReplicateDir()
	if err != nil {
		return err
	}
	cfg := storeConfig(cmd)
	if cfg.Driver == artifact.DriverFilesystem && cfg.Root == "" {
		return fmt.Errorf("--store is required for the fs driver")
	}
	store, err := artifact.Open(ctx, cfg)
	if err != nil {
		return err
	}

	m := metrics.New()
	syncer := &artifact.Syncer{Store: store, Concurrency: syncConcurrency, Observe: m.ObserveSync}
	prefix := artifact.ReplicatePrefix(exp.Settings(), exp.Identity())

	var rep artifact.Report
	switch direction {
	case artifact.DirectionPush:
		rep, err = syncer.Push(ctx, local, prefix)
	default:
		if err := os.MkdirAll(local, 0o755); err != nil {
			return &experiment.FilesystemError{Op: "mkdir", Path: local, Err: err}
		}
		rep, err = syncer.Pull(ctx, prefix, local)
	}
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"driver": store.Driver(), "prefix": prefix,
		"transferred": rep.Transferred, "skipped": rep.Skipped,
	}).Infof("%s complete (%s)", direction, humanize.Bytes(uint64(rep.Bytes)))
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d transferred, %d skipped, %s\n",
		direction, prefix, rep.Transferred, rep.Skipped, humanize.Bytes(uint64(rep.Bytes)))
	if metricsFile != "" {
		return m.WriteTextfile(metricsFile)
	}
	return nil
}
