package flake

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidVersion is wrapped by every version parse failure.
var ErrInvalidVersion = errors.New("invalid version")

type ConstraintKind int

const (
	ConstraintExact ConstraintKind = iota
	ConstraintWildcardPatch
	ConstraintAny
	ConstraintRange
)

func (k ConstraintKind) String() string {
	switch k {
	case ConstraintExact:
		return "exact"
	case ConstraintWildcardPatch:
		return "wildcard-patch"
	case ConstraintAny:
		return "any"
	case ConstraintRange:
		return "range"
	default:
		return "unknown"
	}
}

// Constraint is a registry version spec: "1.2.3+meta", "0.2311.*", "*", or
// a range expression that is handed to the registry unevaluated.
type Constraint struct {
	Kind  ConstraintKind
	Major uint64
	Minor uint64
	Patch uint64

	// Pre is a semver pre-release tag, Exact only.
	Pre string

	// BuildMeta is shown and preserved but never compared.
	BuildMeta string

	// Expr is the verbatim text of a Range.
	Expr string
}

func Exact(major, minor, patch uint64, buildMeta string) Constraint {
	return Constraint{Kind: ConstraintExact, Major: major, Minor: minor, Patch: patch, BuildMeta: buildMeta}
}

func WildcardPatch(major, minor uint64) Constraint {
	return Constraint{Kind: ConstraintWildcardPatch, Major: major, Minor: minor}
}

func WildcardAny() Constraint {
	return Constraint{Kind: ConstraintAny}
}

func Range(expr string) Constraint {
	return Constraint{Kind: ConstraintRange, Expr: expr}
}

// ParseConstraint parses a version spec. Only malformed numeric segments
// and malformed pre-release or build metadata are errors; shapes without
// three numeric parts are kept as a Range.
func ParseConstraint(s string) (Constraint, error) {
	if s == "" {
		return Constraint{}, fmt.Errorf("%w: empty version", ErrInvalidVersion)
	}
	if s == "*" {
		return WildcardAny(), nil
	}
	if strings.ContainsAny(s, "<>=~^!, |") {
		return Range(s), nil
	}

	core, meta, hasMeta := strings.Cut(s, "+")
	if hasMeta && !validIdentifiers(meta) {
		return Constraint{}, fmt.Errorf("%w: bad build metadata %q in %q", ErrInvalidVersion, meta, s)
	}
	core, pre, hasPre := strings.Cut(core, "-")
	if hasPre && !validIdentifiers(pre) {
		return Constraint{}, fmt.Errorf("%w: bad pre-release %q in %q", ErrInvalidVersion, pre, s)
	}

	parts := strings.Split(core, ".")
	if parts[len(parts)-1] == "*" {
		nums, err := parseNumbers(parts[:len(parts)-1], s)
		if err != nil {
			return Constraint{}, err
		}
		if len(nums) == 2 && !hasPre && !hasMeta {
			return WildcardPatch(nums[0], nums[1]), nil
		}
		return Range(s), nil
	}

	nums, err := parseNumbers(parts, s)
	if err != nil {
		return Constraint{}, err
	}
	if len(nums) != 3 {
		return Range(s), nil
	}
	c := Exact(nums[0], nums[1], nums[2], meta)
	c.Pre = pre
	return c, nil
}

// ParseVersion parses a concrete release version, tolerating a leading "v".
func ParseVersion(s string) (Constraint, error) {
	c, err := ParseConstraint(strings.TrimPrefix(s, "v"))
	if err != nil {
		return Constraint{}, err
	}
	if c.Kind != ConstraintExact {
		return Constraint{}, fmt.Errorf("%w: %q is not a concrete version", ErrInvalidVersion, s)
	}
	return c, nil
}

func parseNumbers(parts []string, whole string) ([]uint64, error) {
	nums := make([]uint64, 0, len(parts))
	for _, part := range parts {
		if part == "" || strings.Trim(part, "0123456789") != "" || (len(part) > 1 && part[0] == '0') {
			return nil, fmt.Errorf("%w: bad numeric segment %q in %q", ErrInvalidVersion, part, whole)
		}
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q in %q: %v", ErrInvalidVersion, part, whole, err)
		}
		nums = append(nums, n)
	}
	return nums, nil
}

func validIdentifiers(s string) bool {
	if s == "" {
		return false
	}
	for _, ident := range strings.Split(s, ".") {
		if ident == "" {
			return false
		}
		for _, c := range ident {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-') {
				return false
			}
		}
	}
	return true
}

// String renders the constraint; it is the inverse of ParseConstraint.
func (c Constraint) String() string {
	switch c.Kind {
	case ConstraintAny:
		return "*"
	case ConstraintWildcardPatch:
		return fmt.Sprintf("%d.%d.*", c.Major, c.Minor)
	case ConstraintRange:
		return c.Expr
	}

	s := fmt.Sprintf("%d.%d.%d", c.Major, c.Minor, c.Patch)
	if c.Pre != "" {
		s += "-" + c.Pre
	}
	if c.BuildMeta != "" {
		s += "+" + c.BuildMeta
	}
	return s
}

// WithoutBuildMeta drops the build metadata, e.g. when switching an exact
// pin to "use latest".
func (c Constraint) WithoutBuildMeta() Constraint {
	c.BuildMeta = ""
	return c
}

// Matches reports whether the concrete version v satisfies c. Ranges are
// never matched locally.
func (c Constraint) Matches(v Constraint) bool {
	if v.Kind != ConstraintExact {
		return false
	}
	switch c.Kind {
	case ConstraintAny:
		return v.Pre == ""
	case ConstraintWildcardPatch:
		return v.Pre == "" && v.Major == c.Major && v.Minor == c.Minor
	case ConstraintExact:
		return v.Major == c.Major && v.Minor == c.Minor && v.Patch == c.Patch && v.Pre == c.Pre
	default:
		return false
	}
}

// semver returns the "vMAJOR.MINOR.PATCH[-PRE]" form for golang.org/x/mod/semver.
func (c Constraint) semver() string {
	s := fmt.Sprintf("v%d.%d.%d", c.Major, c.Minor, c.Patch)
	if c.Pre != "" {
		s += "-" + c.Pre
	}
	return s
}
