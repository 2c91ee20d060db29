package cmd

import (
	"github.com/spf13/cobra"
	"notashelf.dev/fh/internal/flake"
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert forge inputs to FlakeHub URLs",
	Long: `Convert rewrites every input that points at a forge repository with a
FlakeHub counterpart into a FlakeHub URL. Branch pins such as
nixos-23.11 become the matching release series; pins to a specific
release keep that release.

Inputs without a FlakeHub counterpart are reported and left alone.`,
	Example: `  fh convert
  fh convert --dry-run --flake ./nix/flake.nix
  fh convert --offline --config ./fh.toml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvert(cmd)
	},
}

func init() {
	addFlakeFlags(convertCmd, true)
}

func runConvert(cmd *cobra.Command) error {
	f, err := loadFlake(flakePath)
	if err != nil {
		return err
	}

	lookup, err := buildLookup(cmd.Context(), f.graph, false)
	if err != nil {
		return err
	}

	out, report, err := flake.ConvertAll(f.graph, f.src, lookup)
	if err != nil {
		return err
	}
	return f.finish(cmd, "convert", out, report)
}
