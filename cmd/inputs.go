package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"notashelf.dev/fh/internal/flake"
	output "notashelf.dev/fh/internal/output"
)

var (
	lockPath               string
	merge                  bool
	failIfMultipleVersions bool
)

var inputsCmd = &cobra.Command{
	Use:   "inputs",
	Short: "List the inputs of a flake",
	Long: `Inputs lists every input flake.nix declares together with the kind of
reference it uses. When a flake.lock sits next to flake.nix, the locked
revision of each input is shown as well, and repositories the lock file
holds at more than one revision are reported.`,
	Example: `  fh inputs
  fh inputs --output=json
  fh inputs --lockfile=/path/to/flake.lock --merge
  fh inputs --fail-if-multiple-versions`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInputs(cmd)
	},
}

func init() {
	addFlakeFlags(inputsCmd, false)
	inputsCmd.Flags().StringVarP(&lockPath, "lockfile", "l", "", "path to flake.lock (default is next to flake.nix)")
	inputsCmd.Flags().BoolVarP(&merge, "merge", "m", false, "merge all dependants into one list for each repository")
	inputsCmd.Flags().BoolVar(&failIfMultipleVersions, "fail-if-multiple-versions", false, "exit with error if multiple versions found")
}

// readSiblingLock reads the lock file of the flake at flakePath. A missing
// default lock file is not an error.
func readSiblingLock() (*flake.FlakeLock, error) {
	path := lockPath
	if path == "" {
		path = filepath.Join(filepath.Dir(flakePath), "flake.lock")
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			logger.Debug("no lock file", "path", path)
			return nil, nil
		}
	}
	return flake.ReadLock(path)
}

func runInputs(cmd *cobra.Command) error {
	f, err := loadFlake(flakePath)
	if err != nil {
		return err
	}
	f.logWarnings(f.graph.Warnings)

	lock, err := readSiblingLock()
	if err != nil {
		return err
	}

	options := outputOptions()
	options.Merge = merge
	options.FailIfMultipleVersions = failIfMultipleVersions

	if err := output.PrintInputs(cmd.OutOrStdout(), f.path, f.graph, lock, options); err != nil {
		return err
	}

	if lock != nil && output.ShouldFailOnDuplicates(options, flake.AnalyzeLock(lock).Deps) {
		return fmt.Errorf("multiple versions detected: exiting with error as requested")
	}
	return nil
}
