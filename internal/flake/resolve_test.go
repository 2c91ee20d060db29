package flake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	candidates := []string{
		"0.2311.1",
		"0.2311.10",
		"0.2311.9",
		"v0.2311.11-rc.1",
		"0.2405.0",
		"not-a-version",
	}

	testCases := []struct {
		name       string
		constraint Constraint
		expected   string
	}{
		{"latest", WildcardAny(), "0.2405.0"},
		{"numeric ordering within minor", WildcardPatch(0, 2311), "0.2311.10"},
		{"exact", Exact(0, 2311, 9, ""), "0.2311.9"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(tc.constraint, candidates)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got.String())
		})
	}
}

func TestResolveBuildMetaTieBreak(t *testing.T) {
	got, err := Resolve(WildcardAny(), []string{"1.0.0+a", "1.0.0+c", "1.0.0+b"})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0+c", got.String())
}

func TestResolveErrors(t *testing.T) {
	_, err := Resolve(WildcardPatch(9, 9), []string{"0.1.0"})
	assert.ErrorIs(t, err, ErrNoMatchingVersion)

	_, err = Resolve(WildcardAny(), nil)
	assert.ErrorIs(t, err, ErrNoMatchingVersion)

	_, err = Resolve(Range(">=1"), []string{"1.0.0"})
	assert.ErrorIs(t, err, ErrRangeConstraint)
}
