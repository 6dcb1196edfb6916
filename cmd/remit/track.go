package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/remit/internal/feed"
	"github.com/steveyegge/remit/internal/history"
	"github.com/steveyegge/remit/internal/manager"
	"github.com/steveyegge/remit/internal/tracker"
	"github.com/steveyegge/remit/internal/ui"
)

var trackCmd = &cobra.Command{
	Use:     "track [remote-dir]",
	GroupID: "sync",
	Short:   "Upload every file written under the local mirror of a remote directory",
	Long: `Track the local mirror of a remote directory. Files created or modified under
the mirror are uploaded to the same relative path on the remote with rclone.
Deletions and renames are not propagated.

Events are drained in batches (consume.batch_size, default 5), newest first
unless consume.order is fifo. Every outcome is journaled to the history
database unless history.enabled is false.

With --feed, tracker activity is broadcast on ws://<feed.host>:<port>/ws:
- tracking_started / tracking_stopped
- uploaded / upload_failed / skipped
- stats: counters, sent to each new client

Example:
  remit track -p lab /srv/data
  remit track -p lab --feed --feed-port 9000`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		opts := &manager.Options{}

		if settings.History.Enabled {
			store, err := history.Open(settings.History.Path, logs.Logger("history"))
			if err != nil {
				return err
			}
			defer store.Close()
			opts.Hooks = append(opts.Hooks, store.Hook())
		}

		useFeed, _ := cmd.Flags().GetBool("feed")
		if useFeed || settings.Feed.Enabled {
			port := settings.Feed.Port
			if cmd.Flags().Changed("feed-port") {
				port, _ = cmd.Flags().GetInt("feed-port")
			}
			server := feed.NewServer(&feed.Config{
				Host:   settings.Feed.Host,
				Port:   port,
				Logger: logs.Logger("feed"),
			})
			if err := server.Start(); err != nil {
				return err
			}
			defer server.Stop()

			handler := feed.NewHandler(server, logs.Logger("feed"))
			opts.Hooks = append(opts.Hooks, handler.Hook())
			opts.Listener = handler
			fmt.Printf("Feed: ws://%s/ws\n", server.Addr())
		}

		dir := ""
		if len(args) == 1 {
			dir = args[0]
		}
		m, err := connect(ctx, cmd, dir, opts)
		if err != nil {
			return err
		}
		defer m.Close()

		local, remoteRoot, err := m.StartTracking()
		if err != nil {
			return err
		}
		// The session is only needed to resolve the directory.
		_ = m.Disconnect()

		fmt.Printf("%s Tracking %s\n", ui.RenderAccent("●"), local)
		fmt.Printf("   Remote: %s:%s\n", m.Rclone().Chosen(), remoteRoot)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		err = m.WaitTracking(ctx)
		if tracker.IsStreamingError(err) {
			return fmt.Errorf("tracking ended: %w", err)
		}
		if err != nil {
			return err
		}
		fmt.Printf("\n%s Stopped tracking\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	addProfileFlag(trackCmd)
	trackCmd.Flags().Bool("feed", false, "serve the WebSocket activity feed")
	trackCmd.Flags().Int("feed-port", 8787, "feed port (overrides feed.port)")

	rootCmd.AddCommand(trackCmd)
}
