package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/remit/am"
	"github.com/teranos/remit/errors"
	"github.com/teranos/remit/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage remit configuration",
	Long: sym.AM + ` am — Manage remit configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (REMIT_* prefix)
2. Project config (./am.toml)
3. User config (~/.remit/am.toml)
4. System config (/etc/remit/am.toml)
5. Default values

Examples:
  remit am show                   # Show current configuration
  remit am show --format json     # Show configuration in JSON format
  remit am get retry.max_attempts # Get a specific value
  remit am validate               # Validate current configuration
  remit am init                   # Write defaults to ~/.remit/am.toml`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a configuration value using dot notation (e.g., database.path, pulse.batch_size)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	RunE:  runAmWhere,
}

var amInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAmInit,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amInitCmd.Flags().Bool("force", false, "Overwrite an existing file (a backup is kept)")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amInitCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	out, err := formatConfig(cfg, configFormat)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

// formatConfig renders cfg as toml, json or yaml
func formatConfig(cfg *am.Config, format string) (string, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal config to JSON")
		}
		return string(data) + "\n", nil
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal config to YAML")
		}
		return "# remit configuration\n" + string(data), nil
	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal config to TOML")
		}
		return "# remit configuration\n" + string(data), nil
	}
	return "", errors.NewInvalidRequestError("unsupported format: %s (supported: toml, json, yaml)", format)
}

func runAmGet(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	v := am.GetViper()
	if !v.IsSet(args[0]) {
		return errors.NewNotFoundError("configuration key %q not found", args[0])
	}
	fmt.Println(v.Get(args[0]))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	fmt.Println("✓ Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	fmt.Printf("%s Configuration sources (highest precedence first)\n\n", sym.AM)
	for _, path := range []string{am.FindProjectConfig(), am.UserConfigPath(), "/etc/remit/am.toml"} {
		if path == "" {
			continue
		}
		state := "missing"
		if _, err := os.Stat(path); err == nil {
			state = "found"
		}
		fmt.Printf("  %-8s %s\n", state, path)
	}
	if active := am.ActiveConfigPath(); active != "" {
		fmt.Printf("\nActive: %s\n", active)
	} else {
		fmt.Println("\nActive: defaults only")
	}
	return nil
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := am.UserConfigPath()
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return errors.New("no home directory; pass a path")
	}
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		return errors.WithHint(errors.Newf("%s already exists", path), "use --force to overwrite")
	}

	cfg, err := am.DefaultConfig()
	if err != nil {
		return err
	}
	if err := am.WriteConfig(cfg, path); err != nil {
		return err
	}
	fmt.Printf("✓ Wrote default configuration to %s\n", path)
	return nil
}
