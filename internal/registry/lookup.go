package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"notashelf.dev/fh/internal/flake"
)

// concurrency bounds the number of registry queries in flight.
const concurrency = 4

// nixpkgs channel branches, e.g. nixos-23.11, nixos-23.11-small or
// nixpkgs-unstable
var releaseBranch = regexp.MustCompile(`^nix(?:os|pkgs)-(?:(\d{2})\.(\d{2})|unstable)(?:-small|-darwin)?$`)

// firstReleaseSeries is the oldest nixpkgs release published to the registry.
const firstReleaseSeries = 2003

// nixpkgsSeries returns the minor version of the registry release series
// that follows a nixpkgs channel branch: 0.1 for the unstable channels and
// 0.YYMM for the release branches.
func nixpkgsSeries(pin string) (uint64, bool) {
	m := releaseBranch.FindStringSubmatch(pin)
	if m == nil {
		return 0, false
	}
	if m[1] == "" {
		return 1, true
	}
	series, err := strconv.ParseUint(m[1]+m[2], 10, 64)
	if err != nil || series < firstReleaseSeries {
		return 0, false
	}
	return series, true
}

// FillLookup answers, ahead of time, every question converting g to
// registry form will ask, and records the answers in into. Forge references
// the registry does not know are left out, so the engine reports them as
// having unknown provenance.
func (c *Client) FillLookup(ctx context.Context, g *flake.Graph, into *flake.StaticLookup) error {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	var seen sync.Map
	for _, in := range g.Inputs {
		repo, ok := forgeOrigin(in)
		if !ok {
			continue
		}
		if _, dup := seen.LoadOrStore(repo.String(), struct{}{}); dup {
			continue
		}
		group.Go(func() error {
			return c.fillProject(ctx, repo, into)
		})
	}

	return group.Wait()
}

func forgeOrigin(in *flake.InputSpec) (flake.VcsRef, bool) {
	if in.Follows || in.Form == flake.FormAttrs {
		return flake.VcsRef{}, false
	}

	var repo flake.VcsRef
	switch ref := in.Locator.(type) {
	case flake.VcsRef:
		repo = ref
	case flake.TarballRef:
		origin, ok := ref.ForgeOrigin()
		if !ok {
			return flake.VcsRef{}, false
		}
		repo = origin
	default:
		return flake.VcsRef{}, false
	}

	// FlakeHub only publishes from GitHub.
	return repo, repo.Host == "github"
}

func (c *Client) fillProject(ctx context.Context, repo flake.VcsRef, into *flake.StaticLookup) error {
	releases, err := c.Releases(ctx, repo.Owner, repo.Project)
	if errors.Is(err, ErrNotFound) {
		c.logger.Debug("repository is not on the registry", "repo", repo.Key())
		return nil
	}
	if err != nil {
		return err
	}

	project := flake.ProjectRef{Org: repo.Owner, Project: repo.Project}
	into.AddProject(repo, project)

	if repo.Pin == "" {
		return nil
	}
	release, ok, err := c.releaseForPin(ctx, project, repo.Pin, releases)
	if err != nil || !ok {
		return err
	}
	into.AddPin(project, repo.Pin, release)
	return nil
}

// releaseForPin finds what pin converts to: for nixpkgs channel branches
// the release series that follows the branch, otherwise the release built
// from that commit or the release of that tag.
func (c *Client) releaseForPin(ctx context.Context, project flake.ProjectRef, pin string, releases []Release) (flake.Constraint, bool, error) {
	if strings.EqualFold(project.String(), "NixOS/nixpkgs") {
		if series, ok := nixpkgsSeries(pin); ok {
			return c.releaseSeries(ctx, project, series)
		}
	}

	tag := strings.TrimPrefix(pin, "v")
	for _, r := range releases {
		if r.Revision == pin || r.SimplifiedVersion == tag || r.Version == tag {
			v, err := flake.ParseVersion(r.Version)
			if err != nil {
				c.logger.Debug("ignoring unparsable release", "project", project, "version", r.Version)
				continue
			}
			return v, true, nil
		}
	}
	return flake.Constraint{}, false, nil
}

// releaseSeries returns the 0.MINOR.* series of project once the registry
// confirms it has published a release in it.
func (c *Client) releaseSeries(ctx context.Context, project flake.ProjectRef, minor uint64) (flake.Constraint, bool, error) {
	series := flake.WildcardPatch(0, minor)
	meta, err := c.Version(ctx, project.Org, project.Project, series.String())
	if errors.Is(err, ErrNotFound) {
		return flake.Constraint{}, false, nil
	}
	if err != nil {
		return flake.Constraint{}, false, err
	}
	c.logger.Debug("branch follows release series", "project", project, "series", series, "latest", meta.Version)
	return series, true, nil
}

// FillReverseLookup records, for every registry reference in g, the forge
// repository it was published from.
func (c *Client) FillReverseLookup(ctx context.Context, g *flake.Graph, into *flake.StaticLookup) error {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	var seen sync.Map
	for _, in := range g.Inputs {
		ref, ok := in.Locator.(flake.RegistryRef)
		if !ok || in.Follows || in.Form == flake.FormAttrs || ref.Constraint.Kind == flake.ConstraintRange {
			continue
		}
		key := ref.ProjectRef().String() + "@" + ref.Constraint.String()
		if _, dup := seen.LoadOrStore(key, struct{}{}); dup {
			continue
		}
		group.Go(func() error {
			return c.fillSource(ctx, ref.ProjectRef(), ref.Constraint, into)
		})
	}

	return group.Wait()
}

func (c *Client) fillSource(ctx context.Context, project flake.ProjectRef, constraint flake.Constraint, into *flake.StaticLookup) error {
	meta, err := c.Version(ctx, project.Org, project.Project, constraint.String())
	if errors.Is(err, ErrNotFound) {
		// Tell a missing release apart from a missing project.
		if _, err := c.Releases(ctx, project.Org, project.Project); err == nil {
			into.AddSourceError(project, constraint, flake.ErrNoMatchingVersion)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		return nil
	}
	if err != nil {
		return err
	}

	repo, err := sourceRepo(meta)
	if err != nil {
		return fmt.Errorf("%s: %w", project, err)
	}
	into.AddSource(project, constraint, repo)
	return nil
}

func sourceRepo(meta *VersionMetadata) (flake.VcsRef, error) {
	owner, project, ok := strings.Cut(meta.SourceGithubOwnerRepoPair, "/")
	if !ok || owner == "" || project == "" || strings.Contains(project, "/") {
		return flake.VcsRef{}, fmt.Errorf("malformed source repository %q", meta.SourceGithubOwnerRepoPair)
	}

	repo := flake.VcsRef{Host: "github", Owner: owner, Project: project}
	if meta.SourceSubdirectory != nil && *meta.SourceSubdirectory != "" {
		repo.Query = "dir=" + *meta.SourceSubdirectory
	}
	return repo, nil
}
