package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inercia/helpdesk/internal/appdir"
	"github.com/inercia/helpdesk/internal/config"
)

var (
	configOutputPath string
	configForce      bool
)

// configCmd represents the config parent command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage helpdesk configuration",
	Long: `Manage helpdesk configuration files.

Use the subcommands to inspect or create configuration files.`,
}

// configShowCmd represents the config show subcommand
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

// configCreateCmd represents the config create subcommand
var configCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a default configuration file",
	Long: `Create a configuration file with every default spelled out.

Examples:
  helpdesk config create                     # $HELPDESK_DIR/config.yaml
  helpdesk config create --output ./hd.yaml  # a specific file
  helpdesk config create --force             # overwrite an existing file`,
	Args: cobra.NoArgs,
	RunE: runConfigCreate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configCreateCmd)

	configCreateCmd.Flags().StringVarP(&configOutputPath, "output", "o", "",
		"File to write (default: $HELPDESK_DIR/config.yaml)")
	configCreateCmd.Flags().BoolVarP(&configForce, "force", "f", false,
		"Overwrite existing configuration file")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	out := cmd.OutOrStdout()
	if cfgSource != "" {
		fmt.Fprintf(out, "# loaded from %s\n", cfgSource)
	} else {
		fmt.Fprintln(out, "# built-in defaults")
	}
	_, err = out.Write(data)
	return err
}

func runConfigCreate(cmd *cobra.Command, args []string) error {
	path := configOutputPath
	if path == "" {
		var err error
		if path, err = appdir.ConfigPath(); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if _, err := os.Stat(path); err == nil && !configForce {
		fmt.Fprintf(out, "Configuration file already exists: %s\n", path)
		fmt.Fprintln(out, "Use --force to overwrite the existing file.")
		return nil
	}

	if err := config.Save(path, config.Default()); err != nil {
		return err
	}
	fmt.Fprintf(out, "Configuration file created: %s\n", path)
	return nil
}
