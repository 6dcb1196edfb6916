// Command remit browses remote hosts over SSH and keeps a local mirror of
// a remote directory in sync by uploading every file written to it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/remit/internal/config"
	"github.com/steveyegge/remit/internal/logging"
)

var (
	configFile string
	quiet      bool

	settings *config.Settings
	logs     *logging.Output
)

var rootCmd = &cobra.Command{
	Use:   "remit",
	Short: "Browse remote hosts and sync a local mirror back to them",
	Long: `remit connects to a host over SSH, lets you browse and download files, and
tracks a local mirror of a remote directory: every file written under the
mirror is uploaded back with rclone.

Connection profiles live in the profiles directory as <name>.toml. Settings
are read from remit.yaml and REMIT_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if quiet {
			s.Log.Quiet = true
		}

		out, err := logging.New(logging.Options{
			File:       s.Log.File,
			MaxSizeMB:  s.Log.MaxSizeMB,
			MaxBackups: s.Log.MaxBackups,
			MaxAgeDays: s.Log.MaxAgeDays,
			Compress:   s.Log.Compress,
			Quiet:      s.Log.Quiet,
		})
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}

		settings = s
		logs = out
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "browse", Title: "Browsing:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "settings file (default remit.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "do not copy logs to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
