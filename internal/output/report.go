package output

import (
	"fmt"
	"io"

	"notashelf.dev/fh/internal/flake"
)

type jsonOutcome struct {
	Input  string `json:"input"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
}

type jsonWarning struct {
	Input   string `json:"input,omitempty"`
	Offset  int    `json:"offset"`
	Message string `json:"message"`
}

type jsonReport struct {
	Action   string        `json:"action"`
	Path     string        `json:"path"`
	Changed  bool          `json:"changed"`
	Written  bool          `json:"written"`
	Outcomes []jsonOutcome `json:"outcomes"`
	Warnings []jsonWarning `json:"warnings"`
}

// ReportHeader describes the run a report belongs to.
type ReportHeader struct {
	Action  string // convert or eject
	Path    string
	Written bool
}

// PrintReport renders the per-input outcomes of a convert or eject run.
func PrintReport(w io.Writer, header ReportHeader, report *flake.Report, options Options) error {
	if options.Quiet {
		return nil
	}

	switch options.OutputFormat {
	case "json":
		return writeJSON(w, toJSONReport(header, report))
	case "plain":
		printPlainReport(w, report, options)
	default:
		printPrettyReport(w, header, report, options)
	}
	return nil
}

func toJSONReport(header ReportHeader, report *flake.Report) jsonReport {
	out := jsonReport{
		Action:   header.Action,
		Path:     header.Path,
		Changed:  report.Changed(),
		Written:  header.Written,
		Outcomes: make([]jsonOutcome, 0, len(report.Outcomes)),
		Warnings: make([]jsonWarning, 0, len(report.Warnings)),
	}
	for _, o := range report.Outcomes {
		jo := jsonOutcome{Input: o.Input, Status: o.Status.String(), Detail: o.Detail, From: o.From, To: o.To}
		if o.Status == flake.StatusSkipped {
			jo.Reason = o.Reason.String()
		}
		out.Outcomes = append(out.Outcomes, jo)
	}
	for _, warning := range report.Warnings {
		out.Warnings = append(out.Warnings, jsonWarning{Input: warning.Input, Offset: warning.Span.Start, Message: warning.Message})
	}
	return out
}

// printPrettyReport leaves warnings to the caller's logger, which knows
// their file positions.
func printPrettyReport(w io.Writer, header ReportHeader, report *flake.Report, options Options) {
	s := newStyles()

	fmt.Fprintln(w, s.header.Render(fmt.Sprintf("fh %s: %s", header.Action, header.Path)))
	if len(report.Outcomes) == 0 {
		fmt.Fprintln(w, s.info.Render(fmt.Sprintf("%s No inputs found", s.infoIcon)))
		return
	}
	fmt.Fprintln(w)

	for _, o := range report.Outcomes {
		switch o.Status {
		case flake.StatusConverted:
			fmt.Fprintf(w, "%s %s\n", s.success.Render(s.successIcon), s.bold.Render(o.Input))
			fmt.Fprintf(w, "   %s %s\n", s.dim.Render("├─"), s.dim.Render(o.From))
			fmt.Fprintf(w, "   %s %s %s\n", s.dim.Render("└─"), s.dim.Render(s.arrow), s.url.Render(o.To))
		case flake.StatusSkipped:
			if o.Reason == flake.SkipAlreadyConverted && !options.Verbose {
				continue
			}
			fmt.Fprintf(w, "%s %s %s\n", s.dim.Render("-"), s.bold.Render(o.Input), s.dim.Render("("+o.Reason.String()+")"))
			if options.Verbose && o.Detail != "" {
				fmt.Fprintf(w, "   %s %s\n", s.dim.Render("└─"), s.dim.Render(o.Detail))
			}
		default:
			fmt.Fprintf(w, "%s %s\n", s.failure.Render(s.failureIcon), s.bold.Render(o.Input))
			fmt.Fprintf(w, "   %s %s\n", s.dim.Render("└─"), s.failure.Render(o.Detail))
		}
	}

	fmt.Fprintln(w)
	converted := report.Count(flake.StatusConverted)
	skipped := report.Count(flake.StatusSkipped)
	failed := report.Count(flake.StatusFailed)
	summary := fmt.Sprintf("%d converted, %d skipped, %d failed", converted, skipped, failed)
	switch {
	case failed > 0:
		fmt.Fprintln(w, s.failure.Render(fmt.Sprintf("%s %s", s.failureIcon, summary)))
	case converted == 0:
		fmt.Fprintln(w, s.info.Render(fmt.Sprintf("%s Nothing to change (%s)", s.infoIcon, summary)))
	default:
		fmt.Fprintln(w, s.success.Render(fmt.Sprintf("%s %s", s.successIcon, summary)))
	}
	if converted > 0 && !header.Written {
		fmt.Fprintln(w, s.dim.Render("Dry run: "+header.Path+" was not modified."))
	}
}

// printPlainReport writes one tab-separated line per input:
// name, status, then the new locator or the reason it was left alone.
func printPlainReport(w io.Writer, report *flake.Report, options Options) {
	for _, o := range report.Outcomes {
		switch o.Status {
		case flake.StatusConverted:
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", o.Input, o.Status, o.From, o.To)
		case flake.StatusSkipped:
			line := fmt.Sprintf("%s\t%s\t%s", o.Input, o.Status, o.Reason)
			if options.Verbose && o.Detail != "" {
				line += "\t" + o.Detail
			}
			fmt.Fprintln(w, line)
		default:
			fmt.Fprintf(w, "%s\t%s\t%s\n", o.Input, o.Status, o.Detail)
		}
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(w, "warning\t%s\n", warning.Message)
	}
}

// AddResult describes an input declared by add.
type AddResult struct {
	Path    string `json:"path"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Written bool   `json:"written"`
}

func PrintAdded(w io.Writer, result AddResult, options Options) error {
	if options.Quiet {
		return nil
	}

	switch options.OutputFormat {
	case "json":
		return writeJSON(w, result)
	case "plain":
		fmt.Fprintf(w, "%s\t%s\n", result.Name, result.URL)
	default:
		s := newStyles()
		fmt.Fprintf(w, "%s %s %s %s\n", s.success.Render(s.successIcon), s.bold.Render(result.Name),
			s.dim.Render(s.arrow), s.url.Render(result.URL))
		if !result.Written {
			fmt.Fprintln(w, s.dim.Render("Dry run: "+result.Path+" was not modified."))
		}
	}
	return nil
}
