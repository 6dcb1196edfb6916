package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/remit/internal/config"
	"github.com/steveyegge/remit/internal/manager"
	"github.com/steveyegge/remit/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage settings, connection profiles and rclone remotes",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		if settings.File != "" {
			fmt.Println(ui.RenderMuted("# " + settings.File))
		} else {
			fmt.Println(ui.RenderMuted("# defaults (no remit.yaml found)"))
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(settings); err != nil {
			return fmt.Errorf("failed to encode settings: %w", err)
		}
		return enc.Close()
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connection profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := config.NewProfileStore(settings.Profiles.Dir)
		if err := store.Load(); err != nil {
			return err
		}

		profiles := store.List()
		if len(profiles) == 0 {
			fmt.Println(ui.RenderMuted("No profiles. Create one with 'remit config new'."))
			return nil
		}

		rows := [][]string{{ui.RenderBold("NAME"), ui.RenderBold("ADDRESS"), ui.RenderBold("USER"), ui.RenderBold("REMOTE"), ui.RenderBold("AUTH")}}
		for _, p := range profiles {
			rows = append(rows, []string{p.Name, p.Addr(), p.Username, p.RemoteName(), authKind(p)})
		}
		fmt.Print(ui.Columns(rows))
		return nil
	},
}

func authKind(p config.Profile) string {
	switch {
	case p.KeyFile != "":
		return "key"
	case p.Password != "":
		return "password"
	default:
		return "prompt"
	}
}

var configNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a connection profile interactively",
	Long: `Create a connection profile. Without flags an interactive form asks for the
fields; with --name, --host and --user the form is skipped.

The rclone remote of the same name is created as an sftp remote unless
--no-remote is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, createRemote, err := profileFromFlags(cmd)
		if err != nil {
			return err
		}
		if p.Name == "" {
			p, createRemote, err = profileForm()
			if err != nil {
				return err
			}
		}

		m, err := manager.New(settings, logs, nil)
		if err != nil {
			return err
		}
		defer m.Close()

		if err := m.AddProfile(cmd.Context(), p, createRemote); err != nil {
			return err
		}
		fmt.Printf("%s Saved profile %s\n", ui.RenderPass("✓"), p.Name)
		return nil
	},
}

func profileFromFlags(cmd *cobra.Command) (config.Profile, bool, error) {
	flags := cmd.Flags()
	name, _ := flags.GetString("name")
	noRemote, _ := flags.GetBool("no-remote")

	var p config.Profile
	if name == "" {
		return p, !noRemote, nil
	}

	p.Name = name
	p.Host, _ = flags.GetString("host")
	p.Username, _ = flags.GetString("user")
	p.Port, _ = flags.GetInt("port")
	p.KeyFile, _ = flags.GetString("key-file")
	p.Remote, _ = flags.GetString("remote")

	if flags.Changed("password") {
		p.Password, _ = flags.GetString("password")
	}
	return p, !noRemote, p.Validate()
}

func profileForm() (config.Profile, bool, error) {
	var p config.Profile
	port := "22"
	createRemote := true

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Profile name").Value(&p.Name).Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("name is required")
				}
				return nil
			}),
			huh.NewInput().Title("Host").Value(&p.Host).Validate(required("host")),
			huh.NewInput().Title("Port").Value(&port).Validate(func(s string) error {
				n, err := strconv.Atoi(s)
				if err != nil || n <= 0 || n > 65535 {
					return errors.New("port must be between 1 and 65535")
				}
				return nil
			}),
			huh.NewInput().Title("Username").Value(&p.Username).Validate(required("username")),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Password").
				Description("Leave empty to be prompted on connect").
				EchoMode(huh.EchoModePassword).
				Value(&p.Password),
			huh.NewInput().
				Title("Private key file").
				Description("Optional").
				Value(&p.KeyFile),
			huh.NewConfirm().
				Title("Create the rclone remote now?").
				Value(&createRemote),
		),
	)
	if err := form.Run(); err != nil {
		return p, false, err
	}

	p.Port, _ = strconv.Atoi(port)
	return p, createRemote, p.Validate()
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

var configDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a connection profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		withRemote, _ := cmd.Flags().GetBool("remote")

		m, err := manager.New(settings, logs, nil)
		if err != nil {
			return err
		}
		defer m.Close()

		if err := m.DeleteProfile(cmd.Context(), args[0], withRemote); err != nil {
			return err
		}
		fmt.Printf("%s Deleted profile %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

var configRemotesCmd = &cobra.Command{
	Use:   "remotes",
	Short: "List rclone remotes",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := manager.New(settings, logs, nil)
		if err != nil {
			return err
		}
		defer m.Close()

		rc := m.Rclone()
		if !rc.ExeExists() {
			fmt.Printf("%s rclone not found at %s\n", ui.RenderWarn("⚠"), rc.ExePath())
		}
		if err := rc.LoadConfigs(cmd.Context()); err != nil {
			return err
		}

		rows := [][]string{{ui.RenderBold("NAME"), ui.RenderBold("TYPE"), ui.RenderBold("HOST"), ui.RenderBold("USER")}}
		for _, name := range rc.ConfigNames() {
			r, _ := rc.Remote(name)
			rows = append(rows, []string{r.Name, r.Type, r.Host, r.User})
		}
		fmt.Print(ui.Columns(rows))
		return nil
	},
}

func init() {
	configNewCmd.Flags().String("name", "", "profile name (skips the form)")
	configNewCmd.Flags().String("host", "", "ssh host")
	configNewCmd.Flags().String("user", "", "ssh username")
	configNewCmd.Flags().Int("port", 22, "ssh port")
	configNewCmd.Flags().String("password", "", "ssh password (stored in the profile file)")
	configNewCmd.Flags().String("key-file", "", "private key file")
	configNewCmd.Flags().String("remote", "", "rclone remote name (default: profile name)")
	configNewCmd.Flags().Bool("no-remote", false, "do not create the rclone remote")

	configDeleteCmd.Flags().Bool("remote", false, "also delete the rclone remote")

	configCmd.AddCommand(configShowCmd, configListCmd, configNewCmd, configDeleteCmd, configRemotesCmd)
	rootCmd.AddCommand(configCmd)
}
