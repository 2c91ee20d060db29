// Package cmd contains the fh command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"notashelf.dev/fh/internal/config"
	output "notashelf.dev/fh/internal/output"
)

var (
	// Version is set via -ldflags.
	Version = "dev"

	cfgFile      string
	verbose      bool
	outputFormat string
	offline      bool
	quiet        bool

	cfg    = config.DefaultConfig()
	logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "fh"})
)

var rootCmd = &cobra.Command{
	Use:   "fh",
	Short: "Move flake inputs between forge references and FlakeHub",
	Long: `fh rewrites the inputs of a flake.nix in place. It converts forge
references such as github:NixOS/nixpkgs/nixos-23.11 into FlakeHub URLs,
ejects FlakeHub URLs back to forge references, and adds new inputs
resolved against the FlakeHub release list.

Only the input locators are touched; comments, formatting and every other
part of the file are kept byte for byte.`,
	Example: `  fh convert --dry-run
  fh eject --flake ./nix/flake.nix
  fh add NixOS/nixpkgs/0.2311.*
  fh inputs --output=json`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/fh/config.toml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	flags.StringVarP(&outputFormat, "output", "o", "pretty", "output format: plain, pretty, or json")
	flags.BoolVar(&offline, "offline", false, "never query FlakeHub; use the configured mappings only")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress the report")
	flags.String("api-addr", "", "FlakeHub API address")
	flags.String("frontend-addr", "", "FlakeHub address used in written URLs")
	flags.Duration("timeout", 0, "timeout of each FlakeHub request")
	flags.Int("max-retries", 0, "retries of a rate-limited or failing FlakeHub request")

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(ejectCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(inputsCmd)
}

// loadConfig layers flags over the environment and config files. Flags are
// bound through the command's merged flag set so unset ones fall through.
func loadConfig(cmd *cobra.Command) error {
	loaded, path, err := config.Load(config.LoadOptions{ConfigFile: cfgFile, Flags: cmd.Flags()})
	if err != nil {
		return err
	}
	if err := output.ValidateOutputFormat(loaded.Output); err != nil {
		return err
	}

	cfg = loaded
	if cfg.Verbose {
		logger.SetLevel(log.DebugLevel)
	}
	if path != "" {
		logger.Debug("loaded config", "path", path)
	}
	return nil
}

func outputOptions() output.Options {
	return output.Options{
		OutputFormat: cfg.Output,
		Verbose:      cfg.Verbose,
		Quiet:        quiet,
	}
}

func versionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return Version
}

func userAgent() string {
	return fmt.Sprintf("fh/%s", Version)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(versionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
