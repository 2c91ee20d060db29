package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"notashelf.dev/fh/internal/flake"
	"notashelf.dev/fh/internal/nixexpr"
	output "notashelf.dev/fh/internal/output"
	"notashelf.dev/fh/internal/registry"
	util "notashelf.dev/fh/internal/util"
)

var (
	flakePath string
	dryRun    bool
)

// addFlakeFlags registers the flags shared by every command that edits a
// flake.nix.
func addFlakeFlags(cmd *cobra.Command, writes bool) {
	cmd.Flags().StringVarP(&flakePath, "flake", "f", "flake.nix", "path to flake.nix")
	if writes {
		cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the rewritten flake.nix instead of writing it")
	}
}

// flakeFile is a flake.nix read from disk together with its input graph.
type flakeFile struct {
	path  string
	src   string
	graph *flake.Graph
}

func loadFlake(path string) (*flakeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}

	src := string(data)
	g, err := flake.BuildGraph(src)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}
	logger.Debug("read flake", "path", path, "inputs", len(g.Inputs))
	return &flakeFile{path: path, src: src, graph: g}, nil
}

func (f *flakeFile) logWarnings(warnings []flake.Warning) {
	for _, w := range warnings {
		line, col := nixexpr.Position(f.src, w.Span.Start)
		kv := []any{"file", f.path, "line", line, "column", col}
		if w.Input != "" {
			kv = append(kv, "input", w.Input)
		}
		logger.Warn(w.Message, kv...)
	}
}

func newRegistryClient() (*registry.Client, error) {
	return registry.New(cfg.APIAddr,
		registry.WithLogger(logger),
		registry.WithTimeout(cfg.Timeout),
		registry.WithMaxRetries(cfg.MaxRetries),
		registry.WithToken(cfg.Token),
		registry.WithUserAgent(userAgent()),
	)
}

// buildLookup answers from the configured mappings and, unless offline,
// from FlakeHub for every input of the graph.
func buildLookup(ctx context.Context, g *flake.Graph, reverse bool) (*flake.StaticLookup, error) {
	lookup, err := cfg.StaticLookup()
	if err != nil {
		return nil, err
	}
	if cfg.Offline {
		logger.Debug("offline, using configured mappings only", "mappings", len(cfg.Mappings))
		return lookup, nil
	}

	client, err := newRegistryClient()
	if err != nil {
		return nil, err
	}
	if reverse {
		err = client.FillReverseLookup(ctx, g, lookup)
	} else {
		err = client.FillLookup(ctx, g, lookup)
	}
	if err != nil {
		return nil, fmt.Errorf("error querying FlakeHub: %w", err)
	}
	return lookup, nil
}

// save writes out back over the flake unless this is a dry run, in which
// case it goes to stdout. It reports whether the file was written.
func (f *flakeFile) save(cmd *cobra.Command, out string) (bool, error) {
	if dryRun {
		_, err := fmt.Fprint(cmd.OutOrStdout(), out)
		return false, err
	}
	if out == f.src {
		return false, nil
	}
	if err := util.WriteFileAtomic(f.path, []byte(out), 0o644); err != nil {
		return false, fmt.Errorf("error writing %s: %w", f.path, err)
	}
	logger.Debug("wrote flake", "path", f.path)
	return true, nil
}

// reportWriter keeps stdout free for the rewritten source on dry runs.
func reportWriter(cmd *cobra.Command) io.Writer {
	if dryRun {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}

// finish saves the result of a convert or eject run and prints its report.
// Failed inputs turn into a non-zero exit after everything else is written.
func (f *flakeFile) finish(cmd *cobra.Command, action, out string, report *flake.Report) error {
	f.logWarnings(report.Warnings)

	written, err := f.save(cmd, out)
	if err != nil {
		return err
	}

	header := output.ReportHeader{Action: action, Path: f.path, Written: written}
	if err := output.PrintReport(reportWriter(cmd), header, report, outputOptions()); err != nil {
		return err
	}

	if failed := report.Count(flake.StatusFailed); failed > 0 {
		return fmt.Errorf("%s failed for %d of %d inputs", action, failed, len(report.Outcomes))
	}
	return nil
}
