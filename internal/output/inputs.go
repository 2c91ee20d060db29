package output

import (
	"fmt"
	"io"
	"maps"
	"net/url"
	"slices"
	"strings"

	"notashelf.dev/fh/internal/flake"
)

type inputRow struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Locator string `json:"locator,omitempty"`
	Follows string `json:"follows,omitempty"`
	Flake   bool   `json:"flake"`
	Locked  string `json:"locked,omitempty"`
	Rev     string `json:"rev,omitempty"`
}

func inputRows(g *flake.Graph, lock *flake.FlakeLock) []inputRow {
	rows := make([]inputRow, 0, len(g.Inputs))
	for _, in := range g.Inputs {
		row := inputRow{Name: in.Name, Flake: in.IsFlake}
		if in.Follows {
			row.Kind = "follows"
			row.Follows = in.FollowsTarget
		} else {
			row.Kind = in.Locator.Kind().String()
			row.Locator = in.Locator.String()
		}

		if lock != nil && in.TopLevel() {
			if locked, ok := lock.RootInput(in.Name); ok && locked.Locked != nil {
				row.Locked = locked.Locked.SourceURL()
				row.Rev = locked.Locked.Rev
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// PrintInputs lists every input g declares. With a lock it also shows the
// revision each root input is locked to and the repositories the lock
// holds at more than one revision.
func PrintInputs(w io.Writer, path string, g *flake.Graph, lock *flake.FlakeLock, options Options) error {
	if options.Quiet {
		return nil
	}

	rows := inputRows(g, lock)
	var relations flake.Relations
	if lock != nil {
		relations = flake.AnalyzeLock(lock)
	}

	switch options.OutputFormat {
	case "json":
		out := map[string]any{
			"path":   path,
			"inputs": rows,
		}
		if lock != nil {
			out["dependencies"] = relations.Deps
			out["reverse_dependencies"] = relations.ReverseDeps
			out["duplicates"] = flake.Duplicates(relations.Deps)
		}
		return writeJSON(w, out)
	case "plain":
		printPlainInputs(w, rows)
		if lock != nil {
			printPlainDuplicates(w, relations.Deps, options)
		}
	default:
		printPrettyInputs(w, path, rows)
		if lock != nil {
			printPrettyDuplicates(w, relations.Deps, options)
		}
	}
	return nil
}

func printPrettyInputs(w io.Writer, path string, rows []inputRow) {
	s := newStyles()

	fmt.Fprintln(w, s.header.Render("fh inputs: "+path))
	if len(rows) == 0 {
		fmt.Fprintln(w, s.info.Render(fmt.Sprintf("%s No inputs declared", s.infoIcon)))
		return
	}
	fmt.Fprintln(w, s.info.Render(fmt.Sprintf("%s %d inputs declared", s.infoIcon, len(rows))))
	fmt.Fprintln(w)

	for _, row := range rows {
		title := s.bold.Render(row.Name) + " " + s.dim.Render("("+row.Kind+")")
		if !row.Flake {
			title += " " + s.alias.Render("flake = false")
		}
		fmt.Fprintln(w, title)

		connector := "└─"
		if row.Locked != "" {
			connector = "├─"
		}
		if row.Follows != "" {
			fmt.Fprintf(w, "   %s %s\n", s.dim.Render(connector), s.dependant.Render("follows "+row.Follows))
		} else {
			fmt.Fprintf(w, "   %s %s\n", s.dim.Render(connector), s.url.Render(row.Locator))
		}
		if row.Locked != "" {
			locked := "locked"
			if row.Rev != "" {
				locked += " at " + row.Rev
			}
			fmt.Fprintf(w, "   %s %s\n", s.dim.Render("└─"), s.dim.Render(locked))
		}
	}
}

func printPlainInputs(w io.Writer, rows []inputRow) {
	for _, row := range rows {
		target := row.Locator
		if row.Follows != "" {
			target = row.Follows
		}
		line := fmt.Sprintf("%s\t%s\t%s", row.Name, row.Kind, target)
		if row.Rev != "" {
			line += "\t" + row.Rev
		}
		fmt.Fprintln(w, line)
	}
}

// dependantsOf merges the dependants of every locked URL of one repository.
func dependantsOf(urls []string, deps map[string][]string) []string {
	set := make(map[string]struct{})
	for _, u := range urls {
		for _, dependant := range deps[u] {
			set[dependant] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(set))
}

// revOf extracts the rev parameter of a locked source URL.
func revOf(source string) string {
	_, query, ok := strings.Cut(source, "?")
	if !ok {
		return ""
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return ""
	}
	return values.Get("rev")
}

func printPrettyDuplicates(w io.Writer, deps map[string][]string, options Options) {
	s := newStyles()
	dups := flake.Duplicates(deps)

	fmt.Fprintln(w)
	if len(dups) == 0 {
		fmt.Fprintln(w, s.success.Render(fmt.Sprintf("%s No duplicate repositories in the lock file", s.successIcon)))
		return
	}

	total := 0
	for _, urls := range dups {
		total += len(urls) - 1
	}
	fmt.Fprintln(w, s.warning.Render(fmt.Sprintf("%s Found %d repositories with multiple versions (%d total duplicates)",
		s.warningIcon, len(dups), total)))
	fmt.Fprintln(w)

	for i, repo := range slices.Sorted(maps.Keys(dups)) {
		urls := dups[repo]

		// Extract repository name from identity for display
		name := repo
		if lastSlash := strings.LastIndex(repo, "/"); lastSlash != -1 {
			name = repo[lastSlash+1:]
		}

		fmt.Fprintln(w, s.failure.Render(fmt.Sprintf("(%d) %s", i+1, name)))
		fmt.Fprintf(w, "   %s %s\n", s.dim.Render("├─"), s.bold.Render("Repository: ")+s.url.Render(repo))

		if options.Merge {
			fmt.Fprintf(w, "   %s %s\n", s.dim.Render("├─"), s.warning.Render(fmt.Sprintf("Versions: %d", len(urls))))
			fmt.Fprintf(w, "   %s %s\n", s.dim.Render("└─"), s.dependant.Render("Used by: "+strings.Join(dependantsOf(urls, deps), ", ")))
			fmt.Fprintln(w)
			continue
		}

		fmt.Fprintf(w, "   %s %s\n", s.dim.Render("├─"), s.warning.Render(fmt.Sprintf("Versions: %d", len(urls))))
		for j, u := range urls {
			last := j == len(urls)-1
			connector, sub := "├─", "│"
			if last {
				connector, sub = "└─", " "
			}

			version := "Version"
			if rev := revOf(u); rev != "" {
				version += " (" + rev + ")"
			}
			fmt.Fprintf(w, "   %s %s\n", s.dim.Render(connector), s.alias.Render(version))

			dependants := deps[u]
			if len(dependants) > 0 {
				fmt.Fprintf(w, "   %s     %s %s\n", s.dim.Render(sub), s.dim.Render("└─"),
					s.dependant.Render("Used by: "+strings.Join(dependants, ", ")))
			}
			if options.Verbose {
				fmt.Fprintf(w, "   %s     %s %s\n", s.dim.Render(sub), s.dim.Render("└─"), s.dim.Render(u))
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, s.info.Render(fmt.Sprintf("%s Recommendation:", s.infoIcon)))
	fmt.Fprintln(w, "   Consider using 'inputs.<name>.follows' in your flake.nix to deduplicate")
	fmt.Fprintln(w, "   dependencies and reduce closure size.")
}

func printPlainDuplicates(w io.Writer, deps map[string][]string, options Options) {
	dups := flake.Duplicates(deps)
	for _, repo := range slices.Sorted(maps.Keys(dups)) {
		urls := dups[repo]
		if options.Merge {
			fmt.Fprintf(w, "duplicate\t%s\t%d\t%s\n", repo, len(urls), strings.Join(dependantsOf(urls, deps), ","))
			continue
		}
		for _, u := range urls {
			fmt.Fprintf(w, "duplicate\t%s\t%s\t%s\n", repo, u, strings.Join(deps[u], ","))
		}
	}
}
