package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/steveyegge/remit/internal/remote"
	"github.com/steveyegge/remit/internal/ui"
)

var lsCmd = &cobra.Command{
	Use:     "ls [remote-dir]",
	GroupID: "browse",
	Short:   "List a remote directory",
	Long: `List a remote directory over SSH. Without an argument the login directory
is listed; relative paths are resolved against it.

Example:
  remit ls -p lab projects/site`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		dir := ""
		if len(args) == 1 {
			dir = args[0]
		}
		m, err := connect(ctx, cmd, dir, nil)
		if err != nil {
			return err
		}
		defer m.Close()

		d, err := m.Dir()
		if err != nil {
			return err
		}

		all, _ := cmd.Flags().GetBool("all")
		fmt.Printf("%s\n", ui.RenderBold(d.Path.String()))
		fmt.Print(ui.Columns(listingRows(d, all)))
		return nil
	},
}

// listingRows renders directory entries as table rows, directories first.
func listingRows(d *remote.Directory, all bool) [][]string {
	var dirs, files [][]string
	for _, name := range d.Names() {
		if !all && len(name) > 0 && name[0] == '.' {
			continue
		}
		f := d.Files[name]

		display := name
		switch f.Type {
		case remote.TypeDirectory:
			display = ui.RenderDir(name + "/")
		case remote.TypeLink:
			display = ui.RenderLink(name) + ui.RenderMuted(" -> "+f.LinkTarget)
		}

		row := []string{
			f.Mode(),
			f.User,
			humanize.Bytes(f.Size),
			f.Modified,
			display,
		}
		if f.Type == remote.TypeDirectory {
			dirs = append(dirs, row)
		} else {
			files = append(files, row)
		}
	}
	return append(dirs, files...)
}

var getCmd = &cobra.Command{
	Use:     "get <remote-file>...",
	GroupID: "browse",
	Short:   "Download remote files into the local mirror",
	Long: `Download remote files into the local mirror of their directory.

The mirror of /srv/data for profile "lab" is <mirror root>/lab/srv/data.

Example:
  remit get -p lab /srv/data/report.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return eachRemoteFile(ctx, cmd, args, func(m transferer, name string) error {
			local, err := m.Download(ctx, name)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", ui.RenderPass("✓"), local)
			return nil
		})
	},
}

var pushCmd = &cobra.Command{
	Use:     "push <remote-file>...",
	GroupID: "browse",
	Short:   "Upload files from the local mirror",
	Long: `Upload the local mirror copy of each named remote file.

Example:
  remit push -p lab /srv/data/report.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return eachRemoteFile(ctx, cmd, args, func(m transferer, name string) error {
			if err := m.Push(ctx, name); err != nil {
				return err
			}
			dir, _ := m.LocalDir()
			fmt.Printf("%s %s\n", ui.RenderPass("✓"), filepath.Join(dir, name))
			return nil
		})
	},
}

type transferer interface {
	Download(ctx context.Context, name string) (string, error)
	Push(ctx context.Context, name string) error
	LocalDir() (string, error)
}

// eachRemoteFile connects once per distinct directory and calls fn with
// the base name of every file in it.
func eachRemoteFile(ctx context.Context, cmd *cobra.Command, files []string, fn func(transferer, string) error) error {
	byDir := make(map[string][]string)
	var order []string
	for _, f := range files {
		dir, name := path.Split(f)
		if _, ok := byDir[dir]; !ok {
			order = append(order, dir)
		}
		byDir[dir] = append(byDir[dir], name)
	}

	var failed int
	for _, dir := range order {
		m, err := connect(ctx, cmd, dir, nil)
		if err != nil {
			return err
		}
		for _, name := range byDir[dir] {
			if err := fn(m, name); err != nil {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderFail("✗"), name, err)
				failed++
			}
		}
		_ = m.Close()
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d transfers failed", failed, len(files))
	}
	return nil
}

func init() {
	addProfileFlag(lsCmd)
	lsCmd.Flags().BoolP("all", "a", false, "include hidden entries")
	addProfileFlag(getCmd)
	addProfileFlag(pushCmd)

	rootCmd.AddCommand(lsCmd, getCmd, pushCmd)
}
