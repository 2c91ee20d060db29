package cmd

import (
	"github.com/spf13/cobra"
	"notashelf.dev/fh/internal/flake"
)

var ejectCmd = &cobra.Command{
	Use:   "eject",
	Short: "Convert FlakeHub inputs back to forge references",
	Long: `Eject is the inverse of convert: every FlakeHub URL is replaced by a
reference to the repository the release was built from, pinned to the
release's commit or tag.`,
	Example: `  fh eject
  fh eject --dry-run --output=plain`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEject(cmd)
	},
}

func init() {
	addFlakeFlags(ejectCmd, true)
}

func runEject(cmd *cobra.Command) error {
	f, err := loadFlake(flakePath)
	if err != nil {
		return err
	}

	lookup, err := buildLookup(cmd.Context(), f.graph, true)
	if err != nil {
		return err
	}

	out, report, err := flake.EjectAll(f.graph, f.src, lookup)
	if err != nil {
		return err
	}
	return f.finish(cmd, "eject", out, report)
}
