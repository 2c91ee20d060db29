package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"notashelf.dev/fh/internal/flake"
	util "notashelf.dev/fh/internal/util"
)

type Options struct {
	OutputFormat           string
	Verbose                bool
	Merge                  bool
	FailIfMultipleVersions bool
	Quiet                  bool
}

var validFormats = []string{"json", "plain", "pretty"}

func ValidateOutputFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid output format %q: valid formats are json, plain, pretty", format)
}

// ShouldFailOnDuplicates reports whether the lockfile holds a repository at
// more than one revision and the caller asked to fail on that.
func ShouldFailOnDuplicates(options Options, deps map[string][]string) bool {
	return options.FailIfMultipleVersions && len(flake.Duplicates(deps)) > 0
}

type styles struct {
	header, success, warning, failure, info lipgloss.Style
	dim, bold, url, alias, dependant        lipgloss.Style

	successIcon, warningIcon, failureIcon, infoIcon, arrow string
}

func newStyles() styles {
	if util.IsNoColor() {
		// Plain text fallbacks for CI environments
		empty := lipgloss.NewStyle()
		return styles{
			header: empty, success: empty, warning: empty, failure: empty, info: empty,
			dim: empty, bold: empty, url: empty, alias: empty, dependant: empty,

			successIcon: "[✓]",
			warningIcon: "[!]",
			failureIcon: "[✗]",
			infoIcon:    "[i]",
			arrow:       "->",
		}
	}

	return styles{
		header: lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true).
			Underline(true),
		success: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true),
		warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true),
		failure: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true),
		info: lipgloss.NewStyle().
			Foreground(lipgloss.Color("14")).
			Bold(true),
		dim: lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")),
		bold: lipgloss.NewStyle().
			Bold(true),
		url: lipgloss.NewStyle().
			Foreground(lipgloss.Color("6")).
			Underline(true),
		alias: lipgloss.NewStyle().
			Foreground(lipgloss.Color("13")).
			Italic(true),
		dependant: lipgloss.NewStyle().
			Foreground(lipgloss.Color("3")),

		successIcon: "✓",
		warningIcon: "⚠",
		failureIcon: "✗",
		infoIcon:    "ℹ",
		arrow:       "→",
	}
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling JSON output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
