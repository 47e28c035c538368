package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/airsync/pkg/config"
	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/registry"

	// Import all available connectors to register them
	_ "github.com/ajitpratap0/airsync/internal/demo"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for configuration problems and 1 for everything else.
func exitCode(err error) int {
	if errors.IsType(err, errors.ErrorTypeConfig) {
		return 2
	}
	return 1
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "airsync",
		Short: "AirSync - connector worker runtime",
		Long: `AirSync runs connector workers for platform sync invocations.
Each invocation event is handed to a registered connector, which extracts data from
or loads data into its external system and reports exactly one terminal event.`,
		SilenceUsage: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "AirSync v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available connectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(registry.List())
			if err != nil {
				return fmt.Errorf("failed to render connectors: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})

	var configFile, outputFile string
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the optional YAML file and
AIRSYNC_* environment overrides were applied.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeConfig, "failed to load configuration")
			}
			if outputFile != "" {
				if err := config.Save(outputFile, cfg); err != nil {
					return errors.Wrap(err, errors.ErrorTypeConfig, "failed to save configuration")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", outputFile)
				return nil
			}
			out, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	configCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to YAML configuration file (optional)")
	configCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the configuration to a file instead of stdout")
	root.AddCommand(configCmd)

	root.AddCommand(newRunCommand())
	return root
}
