package flake

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	// RegistryHost is the FlakeHub frontend host registry URLs are written against.
	RegistryHost = "flakehub.com"

	registryArchiveSuffix = ".tar.gz"
)

type Kind int

const (
	KindUnrecognized Kind = iota
	KindVcs
	KindTarball
	KindRegistry
	KindPath
	KindIndirect
)

func (k Kind) String() string {
	switch k {
	case KindVcs:
		return "vcs"
	case KindTarball:
		return "tarball"
	case KindRegistry:
		return "registry"
	case KindPath:
		return "path"
	case KindIndirect:
		return "indirect"
	default:
		return "unrecognized"
	}
}

// Locator is the classified form of an input's url. The set of
// implementations is closed; consumers switch on the concrete type.
type Locator interface {
	Kind() Kind
	String() string
	isLocator()
}

// VcsRef is a forge shorthand such as github:NixOS/nixpkgs/nixos-23.11.
type VcsRef struct {
	Host    string // forge type: github, gitlab or sourcehut
	Owner   string
	Project string
	Pin     string // optional branch, tag or revision

	// PinParam is "rev" or "ref" when Pin was given as a query parameter
	// rather than a path segment.
	PinParam string

	Query string // raw query without '?' and without PinParam, e.g. "dir=blender"
}

// TarballRef is an archive URL with no registry semantics.
type TarballRef struct {
	URL string
}

// RegistryRef is https://flakehub.com/f/ORG/PROJECT/VERSION[.tar.gz].
type RegistryRef struct {
	Scheme     string
	Host       string
	Org        string
	Project    string
	Constraint Constraint
	Archive    bool // trailing .tar.gz
	Query      string
}

// PathRef is a local path, with or without the path: scheme.
type PathRef struct {
	Path   string
	Scheme bool
}

// IndirectRef is resolved through the system flake registry.
type IndirectRef struct {
	ID string

	// Implicit is set for inputs that declare no locator at all and are
	// looked up by their own name.
	Implicit bool
}

// Unrecognized passes the original text through untouched.
type Unrecognized struct {
	Raw string
}

func (VcsRef) Kind() Kind       { return KindVcs }
func (TarballRef) Kind() Kind   { return KindTarball }
func (RegistryRef) Kind() Kind  { return KindRegistry }
func (PathRef) Kind() Kind      { return KindPath }
func (IndirectRef) Kind() Kind  { return KindIndirect }
func (Unrecognized) Kind() Kind { return KindUnrecognized }

func (VcsRef) isLocator()       {}
func (TarballRef) isLocator()   {}
func (RegistryRef) isLocator()  {}
func (PathRef) isLocator()      {}
func (IndirectRef) isLocator()  {}
func (Unrecognized) isLocator() {}

func (r VcsRef) String() string {
	s := fmt.Sprintf("%s:%s/%s", r.Host, r.Owner, r.Project)
	query := r.Query
	switch {
	case r.Pin != "" && r.PinParam != "":
		param := r.PinParam + "=" + r.Pin
		if query != "" {
			param += "&" + query
		}
		query = param
	case r.Pin != "":
		s += "/" + r.Pin
	}
	if query != "" {
		s += "?" + query
	}
	return s
}

// ShadowedPin returns a rev or ref query parameter left in Query because
// the reference also carries a path pin, which takes precedence.
func (r VcsRef) ShadowedPin() (param, value string, ok bool) {
	if r.Pin == "" || r.PinParam != "" {
		return "", "", false
	}
	for _, param := range pinParams {
		if value, found := queryParam(r.Query, param); found {
			return param, value, true
		}
	}
	return "", "", false
}

// Key identifies the repository regardless of pin, case-insensitively.
func (r VcsRef) Key() string {
	return strings.ToLower(r.Host + ":" + r.Owner + "/" + r.Project)
}

func (r TarballRef) String() string { return r.URL }

// ForgeOrigin extracts owner, project and ref from forge archive URLs such
// as https://github.com/$owner/$repo/archive/$ref.tar.gz.
func (r TarballRef) ForgeOrigin() (VcsRef, bool) {
	m := forgeArchiveRegex.FindStringSubmatch(r.URL)
	if m == nil {
		return VcsRef{}, false
	}
	host, ok := forgeHosts[strings.ToLower(m[1])]
	if !ok {
		return VcsRef{}, false
	}
	return VcsRef{Host: host, Owner: m[2], Project: m[3], Pin: m[4]}, true
}

func (r RegistryRef) String() string {
	scheme, host := r.Scheme, r.Host
	if scheme == "" {
		scheme = "https"
	}
	if host == "" {
		host = RegistryHost
	}
	s := fmt.Sprintf("%s://%s/f/%s/%s/%s", scheme, host, r.Org, r.Project, r.Constraint)
	if r.Archive {
		s += registryArchiveSuffix
	}
	if r.Query != "" {
		s += "?" + r.Query
	}
	return s
}

// ProjectRef returns the registry coordinates of the reference.
func (r RegistryRef) ProjectRef() ProjectRef {
	return ProjectRef{Org: r.Org, Project: r.Project}
}

func (r PathRef) String() string {
	if r.Scheme {
		return "path:" + r.Path
	}
	return r.Path
}

func (r IndirectRef) String() string {
	if r.Implicit {
		return r.ID
	}
	return "flake:" + r.ID
}

func (r Unrecognized) String() string { return r.Raw }

var (
	// Pattern: https://site.tld/$owner/$repo/archive/$ref.tar.gz
	forgeArchiveRegex = regexp.MustCompile(`^https?://([^/]+)/([^/]+)/([^/]+)/archive/(?:refs/(?:heads|tags)/)?([^/]+?)(?:\.tar\.gz|\.zip|\.tar\.xz)$`)

	indirectRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*(/[^/?]+)*$`)

	forgeHosts = map[string]string{
		"github.com": "github",
		"gitlab.com": "gitlab",
		"git.sr.ht":  "sourcehut",
	}

	archiveSuffixes = []string{".tar.gz", ".tgz", ".tar.xz", ".txz", ".tar.bz2", ".tbz2", ".tar.zst", ".tar", ".zip"}
)

// Classify maps a raw locator string onto exactly one Locator. It never
// fails: anything it cannot place is returned as Unrecognized.
func Classify(raw string) Locator {
	scheme, rest, hasScheme := strings.Cut(raw, ":")
	if hasScheme {
		switch scheme {
		case "github", "gitlab", "sourcehut":
			if ref, ok := parseForgeShorthand(scheme, rest); ok {
				return ref
			}
			return Unrecognized{Raw: raw}
		case "path":
			if rest == "" {
				return Unrecognized{Raw: raw}
			}
			return PathRef{Path: rest, Scheme: true}
		case "flake":
			if !indirectRegex.MatchString(rest) {
				return Unrecognized{Raw: raw}
			}
			return IndirectRef{ID: rest}
		case "tarball+http", "tarball+https", "tarball+file":
			return TarballRef{URL: raw}
		case "http", "https":
			return classifyHTTP(raw)
		}
		return Unrecognized{Raw: raw}
	}

	switch {
	case raw == ".", raw == "..",
		strings.HasPrefix(raw, "/"), strings.HasPrefix(raw, "./"),
		strings.HasPrefix(raw, "../"), strings.HasPrefix(raw, "~/"):
		return PathRef{Path: raw}
	case indirectRegex.MatchString(raw):
		return IndirectRef{ID: raw}
	}
	return Unrecognized{Raw: raw}
}

func parseForgeShorthand(host, rest string) (VcsRef, bool) {
	path, query, _ := strings.Cut(rest, "?")
	segments := strings.Split(path, "/")
	if len(segments) < 2 || len(segments) > 3 {
		return VcsRef{}, false
	}
	for _, s := range segments {
		if s == "" || strings.ContainsAny(s, " \t\n") {
			return VcsRef{}, false
		}
	}

	ref := VcsRef{Host: host, Owner: segments[0], Project: segments[1], Query: query}
	if len(segments) == 3 {
		ref.Pin = segments[2]
		return ref, true
	}
	for _, param := range pinParams {
		if value, found := queryParam(query, param); found && value != "" {
			ref.Pin, ref.PinParam = value, param
			ref.Query = withoutParam(query, param)
			break
		}
	}
	return ref, true
}

// pinParams are the query parameters that pin a forge reference, the more
// specific first.
var pinParams = []string{"rev", "ref"}

// queryParam returns the decoded value of key in a raw query.
func queryParam(query, key string) (string, bool) {
	values, err := url.ParseQuery(query)
	if err != nil || !values.Has(key) {
		return "", false
	}
	return values.Get(key), true
}

// withoutParam drops every occurrence of key from a raw query, keeping the
// remaining parameters in order and as written.
func withoutParam(query, key string) string {
	kept := make([]string, 0, strings.Count(query, "&")+1)
	for _, part := range strings.Split(query, "&") {
		name, _, _ := strings.Cut(part, "=")
		if part == "" || name == key {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "&")
}

func classifyHTTP(raw string) Locator {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Unrecognized{Raw: raw}
	}

	if isRegistryHost(u.Host) {
		if ref, ok := parseRegistryPath(u); ok {
			return ref
		}
		if strings.HasPrefix(u.Path, "/f/") {
			return Unrecognized{Raw: raw}
		}
	}
	if hasArchiveSuffix(u.Path) {
		return TarballRef{URL: raw}
	}
	return Unrecognized{Raw: raw}
}

func isRegistryHost(host string) bool {
	host = strings.ToLower(host)
	return host == RegistryHost || strings.HasSuffix(host, "."+RegistryHost)
}

func parseRegistryPath(u *url.URL) (RegistryRef, bool) {
	segments := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(segments) != 4 || segments[0] != "f" || segments[1] == "" || segments[2] == "" {
		return RegistryRef{}, false
	}

	spec, archive := strings.CutSuffix(segments[3], registryArchiveSuffix)
	constraint, err := ParseConstraint(spec)
	if err != nil {
		return RegistryRef{}, false
	}

	return RegistryRef{
		Scheme:     u.Scheme,
		Host:       u.Host,
		Org:        segments[1],
		Project:    segments[2],
		Constraint: constraint,
		Archive:    archive,
		Query:      u.RawQuery,
	}, true
}

func hasArchiveSuffix(path string) bool {
	path = strings.ToLower(path)
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// ClassifyAttrs classifies the attribute-set locator form, e.g.
// { type = "github"; owner = "NixOS"; repo = "nixpkgs"; }.
func ClassifyAttrs(attrs map[string]string) Locator {
	switch typ := attrs["type"]; typ {
	case "github", "gitlab", "sourcehut":
		if attrs["owner"] == "" || attrs["repo"] == "" {
			break
		}
		ref := VcsRef{Host: typ, Owner: attrs["owner"], Project: attrs["repo"], Pin: attrs["ref"]}
		if ref.Pin == "" {
			ref.Pin = attrs["rev"]
		}
		if dir := attrs["dir"]; dir != "" {
			ref.Query = "dir=" + dir
		}
		return ref
	case "tarball":
		if attrs["url"] != "" {
			return TarballRef{URL: attrs["url"]}
		}
	case "path":
		if attrs["path"] != "" {
			return PathRef{Path: attrs["path"], Scheme: true}
		}
	case "indirect":
		if attrs["id"] != "" {
			return IndirectRef{ID: attrs["id"]}
		}
	}
	return Unrecognized{Raw: renderAttrs(attrs)}
}

func renderAttrs(attrs map[string]string) string {
	var b strings.Builder
	b.WriteString("{")
	for _, key := range sortedKeys(attrs) {
		fmt.Fprintf(&b, " %s = %q;", key, attrs[key])
	}
	b.WriteString(" }")
	return b.String()
}

// Check if a string is a commit hash
func isCommitHash(s string) bool {
	if len(s) != 40 {
		return false
	}

	for _, c := range s {
		// Git commit hashes use lowercase hexadecimal only
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}

	return true
}
