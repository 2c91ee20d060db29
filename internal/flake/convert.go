package flake

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ProjectRef names a project on the registry.
type ProjectRef struct {
	Org     string
	Project string
}

func (p ProjectRef) String() string {
	return p.Org + "/" + p.Project
}

// Lookup answers the questions convert needs about the registry. All
// answers are supplied by the caller; implementations return
// ErrUnknownProvenance when there is no counterpart.
type Lookup interface {
	// RegistryProject maps a forge repository onto its registry project.
	RegistryProject(ref VcsRef) (ProjectRef, error)
	// ResolvedPin returns the release of project built from pin, or the
	// release series pin follows when it names a branch.
	ResolvedPin(project ProjectRef, pin string) (Constraint, error)
}

// Frontend is implemented by lookups that know the address registry URLs
// are written against. Without it the default FlakeHub host is used.
type Frontend interface {
	RegistryFrontend() (scheme, host string)
}

// ReverseLookup answers the questions eject needs about the registry.
type ReverseLookup interface {
	// SourceRepo returns the forge repository project c was published
	// from. Pin is left empty; Query carries a subdirectory if any.
	SourceRepo(project ProjectRef, c Constraint) (VcsRef, error)
}

type SkipReason int

const (
	SkipNone SkipReason = iota
	SkipUnknownProvenance
	SkipNotConvertible
	SkipAlreadyConverted
	SkipNoMatchingVersion
)

func (r SkipReason) String() string {
	switch r {
	case SkipUnknownProvenance:
		return "unknown provenance"
	case SkipNotConvertible:
		return "not convertible"
	case SkipAlreadyConverted:
		return "already converted"
	case SkipNoMatchingVersion:
		return "no matching version"
	default:
		return "none"
	}
}

// SkipError is returned by the converters for inputs that are left alone.
type SkipError struct {
	Reason SkipReason
	Detail string
}

func (e *SkipError) Error() string {
	if e.Detail == "" {
		return e.Reason.String()
	}
	return e.Reason.String() + ": " + e.Detail
}

func skip(reason SkipReason, format string, args ...any) error {
	return &SkipError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Edit replaces the bytes at Span with Text. Zero-length spans insert.
type Edit struct {
	Span   Span
	Text   string
	Reason string
}

// ToRegistryForm rewrites a forge locator as a registry URL. Unpinned
// references track the latest release; a pin is kept as the build metadata
// of the release the lookup resolves it to, or dropped with a warning.
func ToRegistryForm(in *InputSpec, lookup Lookup) (Edit, []Warning, error) {
	target, warnings, err := toRegistry(in, lookup)
	if err != nil {
		return Edit{}, nil, err
	}
	return rewriteEdit(in, target), warnings, nil
}

func toRegistry(in *InputSpec, lookup Lookup) (RegistryRef, []Warning, error) {
	if in.Follows {
		return RegistryRef{}, nil, skip(SkipNotConvertible, "follows %s", in.FollowsTarget)
	}
	if in.Form == FormAttrs {
		return RegistryRef{}, nil, skip(SkipNotConvertible, "attribute-style locator")
	}

	var repo VcsRef
	switch ref := in.Locator.(type) {
	case RegistryRef:
		return RegistryRef{}, nil, &SkipError{Reason: SkipAlreadyConverted}
	case VcsRef:
		repo = ref
	case TarballRef:
		origin, ok := ref.ForgeOrigin()
		if !ok {
			return RegistryRef{}, nil, skip(SkipUnknownProvenance, "tarball %s", ref.URL)
		}
		repo = origin
	case PathRef, IndirectRef, Unrecognized:
		return RegistryRef{}, nil, skip(SkipNotConvertible, "%s locator", ref.Kind())
	default:
		return RegistryRef{}, nil, skip(SkipNotConvertible, "unsupported locator %T", ref)
	}

	project, err := lookup.RegistryProject(repo)
	if errors.Is(err, ErrUnknownProvenance) {
		return RegistryRef{}, nil, skip(SkipUnknownProvenance, "%s", repo)
	}
	if err != nil {
		return RegistryRef{}, nil, fmt.Errorf("looking up %s: %w", repo, err)
	}

	var warnings []Warning
	if param, value, ok := repo.ShadowedPin(); ok {
		warnings = append(warnings, Warning{
			Input:   in.Name,
			Span:    in.Spans[0],
			Message: fmt.Sprintf("%s pins both %q and %s=%q; converting with %q", in.Name, repo.Pin, param, value, repo.Pin),
		})
	}

	constraint := WildcardAny()
	if repo.Pin != "" {
		resolved, err := lookup.ResolvedPin(project, repo.Pin)
		switch {
		case err == nil && resolved.Kind == ConstraintExact:
			if resolved.BuildMeta == "" && validIdentifiers(repo.Pin) {
				resolved.BuildMeta = repo.Pin
			}
			constraint = resolved
		case err == nil && resolved.Kind == ConstraintWildcardPatch:
			constraint = resolved
		default:
			detail := "no release found"
			if err != nil {
				detail = err.Error()
			}
			warnings = append(warnings, Warning{
				Input:   in.Name,
				Span:    in.Spans[0],
				Message: fmt.Sprintf("pin %q of %s has no registry release (%s); tracking the latest release instead", repo.Pin, in.Name, detail),
			})
		}
	}

	target := RegistryRef{Org: project.Org, Project: project.Project, Constraint: constraint, Archive: true}
	if frontend, ok := lookup.(Frontend); ok {
		target.Scheme, target.Host = frontend.RegistryFrontend()
	}
	return target, warnings, nil
}

// ToVcsForm rewrites a registry URL as the forge shorthand it was published
// from. Wildcards follow the default branch; an exact release is pinned to
// its build metadata, or to its version as a tag when it has none.
func ToVcsForm(in *InputSpec, lookup ReverseLookup) (Edit, error) {
	target, err := toVcs(in, lookup)
	if err != nil {
		return Edit{}, err
	}
	return rewriteEdit(in, target), nil
}

func toVcs(in *InputSpec, lookup ReverseLookup) (VcsRef, error) {
	if in.Follows {
		return VcsRef{}, skip(SkipNotConvertible, "follows %s", in.FollowsTarget)
	}
	if in.Form == FormAttrs {
		return VcsRef{}, skip(SkipNotConvertible, "attribute-style locator")
	}

	var ref RegistryRef
	switch loc := in.Locator.(type) {
	case RegistryRef:
		ref = loc
	case VcsRef:
		return VcsRef{}, &SkipError{Reason: SkipAlreadyConverted}
	case TarballRef, PathRef, IndirectRef, Unrecognized:
		return VcsRef{}, skip(SkipNotConvertible, "%s locator", loc.Kind())
	default:
		return VcsRef{}, skip(SkipNotConvertible, "unsupported locator %T", loc)
	}

	if ref.Constraint.Kind == ConstraintRange {
		return VcsRef{}, skip(SkipNotConvertible, "version range %q", ref.Constraint.Expr)
	}

	repo, err := lookup.SourceRepo(ref.ProjectRef(), ref.Constraint)
	switch {
	case errors.Is(err, ErrUnknownProvenance):
		return VcsRef{}, skip(SkipUnknownProvenance, "%s", ref.ProjectRef())
	case errors.Is(err, ErrNoMatchingVersion):
		return VcsRef{}, skip(SkipNoMatchingVersion, "%s/%s", ref.ProjectRef(), ref.Constraint)
	case err != nil:
		return VcsRef{}, fmt.Errorf("looking up source of %s: %w", ref.ProjectRef(), err)
	}

	repo.Pin = ejectPin(ref.Constraint)
	return repo, nil
}

func rewriteEdit(in *InputSpec, target Locator) Edit {
	return Edit{
		Span:   in.Spans[0],
		Text:   quote(target.String()),
		Reason: fmt.Sprintf("%s: %s -> %s", in.Name, in.Locator, target),
	}
}

func ejectPin(c Constraint) string {
	if c.Kind != ConstraintExact {
		return ""
	}
	if c.BuildMeta == "" {
		return c.WithoutBuildMeta().String()
	}
	if rev, ok := strings.CutPrefix(c.BuildMeta, "rev-"); ok && isCommitHash(rev) {
		return rev
	}
	return c.BuildMeta
}

var stringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "${", `\${`, "\n", `\n`, "\t", `\t`, "\r", `\r`)

// quote renders s as a Nix double-quoted string.
func quote(s string) string {
	return `"` + stringEscaper.Replace(s) + `"`
}

// StaticLookup is a Lookup and ReverseLookup backed by explicit entries.
// It is safe for concurrent use so callers can fill it from parallel
// registry queries.
type StaticLookup struct {
	mu       sync.RWMutex
	scheme   string
	host     string
	projects map[string]ProjectRef
	pins     map[string]Constraint
	sources  map[string]VcsRef
	errs     map[string]error
}

func NewStaticLookup() *StaticLookup {
	return &StaticLookup{
		projects: make(map[string]ProjectRef),
		pins:     make(map[string]Constraint),
		sources:  make(map[string]VcsRef),
		errs:     make(map[string]error),
	}
}

func repoKey(ref VcsRef) string {
	key := ref.Key()
	query := ref.Query
	for _, param := range pinParams {
		query = withoutParam(query, param)
	}
	if query != "" {
		key += "?" + query
	}
	return key
}

// SetFrontend sets the scheme and host converted URLs are written against.
func (l *StaticLookup) SetFrontend(scheme, host string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scheme, l.host = scheme, host
}

func (l *StaticLookup) RegistryFrontend() (string, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.scheme, l.host
}

func pinKey(project ProjectRef, pin string) string {
	return strings.ToLower(project.String()) + "@" + pin
}

func sourceKey(project ProjectRef, c Constraint) string {
	return strings.ToLower(project.String()) + "@" + c.String()
}

// AddProject maps the forge repository (pin ignored) onto project.
func (l *StaticLookup) AddProject(repo VcsRef, project ProjectRef) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.projects[repoKey(repo)] = project
}

// AddPin records the release project published from pin.
func (l *StaticLookup) AddPin(project ProjectRef, pin string, release Constraint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pins[pinKey(project, pin)] = release
}

// AddSource records the repository project was published from. A source
// added with a Constraint of kind Any answers for every constraint of that
// project without a more specific entry.
func (l *StaticLookup) AddSource(project ProjectRef, c Constraint, repo VcsRef) {
	l.mu.Lock()
	defer l.mu.Unlock()
	repo.Pin, repo.PinParam = "", ""
	l.sources[sourceKey(project, c)] = repo
}

// AddSourceError records a failed query for project at c.
func (l *StaticLookup) AddSourceError(project ProjectRef, c Constraint, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs[sourceKey(project, c)] = err
}

func (l *StaticLookup) RegistryProject(ref VcsRef) (ProjectRef, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if project, ok := l.projects[repoKey(ref)]; ok {
		return project, nil
	}
	return ProjectRef{}, fmt.Errorf("%w: %s", ErrUnknownProvenance, ref)
}

func (l *StaticLookup) ResolvedPin(project ProjectRef, pin string) (Constraint, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if c, ok := l.pins[pinKey(project, pin)]; ok {
		return c, nil
	}
	return Constraint{}, fmt.Errorf("%w: %s at %s", ErrNoMatchingVersion, project, pin)
}

func (l *StaticLookup) SourceRepo(project ProjectRef, c Constraint) (VcsRef, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	key := sourceKey(project, c)
	if err, ok := l.errs[key]; ok {
		return VcsRef{}, err
	}
	if repo, ok := l.sources[key]; ok {
		return repo, nil
	}
	if repo, ok := l.sources[sourceKey(project, WildcardAny())]; ok {
		return repo, nil
	}
	return VcsRef{}, fmt.Errorf("%w: %s", ErrUnknownProvenance, project)
}
