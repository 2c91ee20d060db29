package cmd

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"
	"notashelf.dev/fh/internal/flake"
	output "notashelf.dev/fh/internal/output"
	"notashelf.dev/fh/internal/registry"
)

var inputName string

var addCmd = &cobra.Command{
	Use:   "add <Org/project[/version]|flake-url>",
	Short: "Add an input to flake.nix",
	Long: `Add declares a new input in flake.nix and, when the outputs function
destructures its arguments, adds the input there too.

A FlakeHub project given as Org/project is resolved against its release
list and written with a wildcard patch version, so that updating the lock
file follows the release series. Anything else is taken as a flake URL
and written as is.`,
	Example: `  fh add NixOS/nixpkgs
  fh add NixOS/nixpkgs/0.2311.*
  fh add --input-name home-manager github:nix-community/home-manager`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdd(cmd, args[0])
	},
}

func init() {
	addFlakeFlags(addCmd, true)
	addCmd.Flags().StringVarP(&inputName, "input-name", "n", "", "name of the new input (default is the project name)")
}

// Pattern: Org/project or Org/project/version
var projectShorthandRegex = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9_.-]*)/([A-Za-z0-9][A-Za-z0-9_.-]*)(?:/([^/]+))?$`)

// addTarget classifies the argument of add. Project shorthands become
// registry references on the configured frontend.
func addTarget(arg string) (flake.Locator, error) {
	m := projectShorthandRegex.FindStringSubmatch(arg)
	if m == nil {
		return flake.Classify(arg), nil
	}

	constraint := flake.WildcardAny()
	if m[3] != "" {
		c, err := flake.ParseConstraint(m[3])
		if err != nil {
			return nil, err
		}
		constraint = c
	}

	scheme, host, err := cfg.Frontend()
	if err != nil {
		return nil, err
	}
	return flake.RegistryRef{
		Scheme:     scheme,
		Host:       host,
		Org:        m[1],
		Project:    m[2],
		Constraint: constraint,
		Archive:    true,
	}, nil
}

func defaultInputName(loc flake.Locator) (string, bool) {
	switch ref := loc.(type) {
	case flake.RegistryRef:
		return ref.Project, true
	case flake.VcsRef:
		return ref.Project, true
	case flake.IndirectRef:
		return ref.ID, true
	}
	return "", false
}

// resolveVersion picks the release a registry reference should follow.
// Exact constraints are kept; anything else becomes the release series of
// the newest matching release.
func resolveVersion(ctx context.Context, client *registry.Client, ref flake.RegistryRef) (flake.Constraint, error) {
	c := ref.Constraint
	if c.Kind == flake.ConstraintRange {
		meta, err := client.Version(ctx, ref.Org, ref.Project, c.Expr)
		if err != nil {
			return flake.Constraint{}, err
		}
		v, err := flake.ParseVersion(meta.Version)
		if err != nil {
			return flake.Constraint{}, err
		}
		return flake.WildcardPatch(v.Major, v.Minor), nil
	}

	releases, err := client.Releases(ctx, ref.Org, ref.Project)
	if err != nil {
		return flake.Constraint{}, err
	}
	versions := make([]string, 0, len(releases))
	for _, r := range releases {
		versions = append(versions, r.Version)
	}
	v, err := flake.Resolve(c, versions)
	if err != nil {
		return flake.Constraint{}, err
	}
	logger.Debug("resolved version", "project", ref.ProjectRef(), "constraint", c, "version", v)

	if c.Kind == flake.ConstraintExact {
		return c, nil
	}
	return flake.WildcardPatch(v.Major, v.Minor), nil
}

func runAdd(cmd *cobra.Command, arg string) error {
	f, err := loadFlake(flakePath)
	if err != nil {
		return err
	}

	loc, err := addTarget(arg)
	if err != nil {
		return err
	}
	if _, ok := loc.(flake.Unrecognized); ok {
		return fmt.Errorf("%q is neither a FlakeHub project nor a flake URL", arg)
	}

	name := inputName
	if name == "" {
		var ok bool
		if name, ok = defaultInputName(loc); !ok {
			return fmt.Errorf("cannot derive an input name from %q: pass --input-name", arg)
		}
	}

	locator := loc.String()
	var resolved *flake.Constraint
	if ref, ok := loc.(flake.RegistryRef); ok {
		if cfg.Offline {
			logger.Warn("offline, writing the version unresolved", "input", name, "version", ref.Constraint)
		} else {
			client, err := newRegistryClient()
			if err != nil {
				return err
			}
			c, err := resolveVersion(cmd.Context(), client, ref)
			if errors.Is(err, registry.ErrNotFound) {
				return fmt.Errorf("FlakeHub has no release of %s matching %s", ref.ProjectRef(), ref.Constraint)
			}
			if err != nil {
				return fmt.Errorf("error resolving %s: %w", ref.ProjectRef(), err)
			}
			resolved = &c
			ref.Constraint = c
		}
		// AddInput only substitutes versions in URLs on the FlakeHub host.
		if _, onRegistry := flake.Classify(locator).(flake.RegistryRef); !onRegistry {
			locator, resolved = ref.String(), nil
		}
		loc = ref
	}

	out, err := flake.AddInput(f.graph, f.src, name, locator, resolved)
	if err != nil {
		return err
	}

	written, err := f.save(cmd, out)
	if err != nil {
		return err
	}

	result := output.AddResult{Path: f.path, Name: name, URL: loc.String(), Written: written}
	return output.PrintAdded(reportWriter(cmd), result, outputOptions())
}
