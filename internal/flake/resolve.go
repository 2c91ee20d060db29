package flake

import (
	"errors"
	"fmt"

	"golang.org/x/mod/semver"
)

var (
	// ErrNoMatchingVersion is returned when no candidate satisfies a constraint.
	ErrNoMatchingVersion = errors.New("no matching version")

	// ErrRangeConstraint is returned for range expressions, which only the
	// registry can evaluate.
	ErrRangeConstraint = errors.New("range constraints are resolved by the registry")
)

// Resolve picks the best candidate satisfying c: the highest semver
// precedence, ties broken by the lexically greatest build metadata.
// Candidates that do not parse as versions are ignored.
func Resolve(c Constraint, candidates []string) (Constraint, error) {
	if c.Kind == ConstraintRange {
		return Constraint{}, fmt.Errorf("%w: %q", ErrRangeConstraint, c.Expr)
	}

	var best Constraint
	found := false
	for _, candidate := range candidates {
		v, err := ParseVersion(candidate)
		if err != nil || !c.Matches(v) {
			continue
		}
		if !found || newer(v, best) {
			best = v
			found = true
		}
	}

	if !found {
		return Constraint{}, fmt.Errorf("%w for %s among %d candidates", ErrNoMatchingVersion, c, len(candidates))
	}
	return best, nil
}

func newer(a, b Constraint) bool {
	switch cmp := semver.Compare(a.semver(), b.semver()); {
	case cmp != 0:
		return cmp > 0
	default:
		return a.BuildMeta > b.BuildMeta
	}
}
