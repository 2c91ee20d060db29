package flake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name     string
		raw      string
		expected Locator
	}{
		{
			name:     "github shorthand",
			raw:      "github:NixOS/nixpkgs",
			expected: VcsRef{Host: "github", Owner: "NixOS", Project: "nixpkgs"},
		},
		{
			name:     "github shorthand with ref",
			raw:      "github:NixOS/nixpkgs/nixos-23.11",
			expected: VcsRef{Host: "github", Owner: "NixOS", Project: "nixpkgs", Pin: "nixos-23.11"},
		},
		{
			name:     "gitlab shorthand with dir",
			raw:      "gitlab:foo/bar?dir=sub",
			expected: VcsRef{Host: "gitlab", Owner: "foo", Project: "bar", Query: "dir=sub"},
		},
		{
			name:     "github shorthand with rev parameter",
			raw:      "github:NixOS/nixpkgs?rev=" + testRev,
			expected: VcsRef{Host: "github", Owner: "NixOS", Project: "nixpkgs", Pin: testRev, PinParam: "rev"},
		},
		{
			name:     "github shorthand with ref parameter",
			raw:      "github:ryantm/agenix?ref=v1.2.3",
			expected: VcsRef{Host: "github", Owner: "ryantm", Project: "agenix", Pin: "v1.2.3", PinParam: "ref"},
		},
		{
			name:     "rev parameter beside dir",
			raw:      "github:o/r?dir=sub&rev=abc&ref=main",
			expected: VcsRef{Host: "github", Owner: "o", Project: "r", Pin: "abc", PinParam: "rev", Query: "dir=sub&ref=main"},
		},
		{
			name:     "path pin shadows rev parameter",
			raw:      "github:o/r/main?rev=abc",
			expected: VcsRef{Host: "github", Owner: "o", Project: "r", Pin: "main", Query: "rev=abc"},
		},
		{
			name:     "sourcehut shorthand",
			raw:      "sourcehut:~user/repo",
			expected: VcsRef{Host: "sourcehut", Owner: "~user", Project: "repo"},
		},
		{
			name: "registry wildcard patch",
			raw:  "https://flakehub.com/f/NixOS/nixpkgs/0.2311.*.tar.gz",
			expected: RegistryRef{
				Scheme: "https", Host: "flakehub.com", Org: "NixOS", Project: "nixpkgs",
				Constraint: WildcardPatch(0, 2311), Archive: true,
			},
		},
		{
			name: "registry four part version",
			raw:  "https://flakehub.com/f/o/p/1.2.3.4",
			expected: RegistryRef{
				Scheme: "https", Host: "flakehub.com", Org: "o", Project: "p",
				Constraint: Range("1.2.3.4"),
			},
		},
		{
			name: "registry exact",
			raw:  "https://flakehub.com/f/DeterminateSystems/fh/0.0.0.tar.gz",
			expected: RegistryRef{
				Scheme: "https", Host: "flakehub.com", Org: "DeterminateSystems", Project: "fh",
				Constraint: Exact(0, 0, 0, ""), Archive: true,
			},
		},
		{
			name: "registry api subdomain without suffix",
			raw:  "https://api.flakehub.com/f/NixOS/nixpkgs/*",
			expected: RegistryRef{
				Scheme: "https", Host: "api.flakehub.com", Org: "NixOS", Project: "nixpkgs",
				Constraint: WildcardAny(),
			},
		},
		{
			name:     "registry with bad version",
			raw:      "https://flakehub.com/f/NixOS/nixpkgs/01.2.3.tar.gz",
			expected: Unrecognized{Raw: "https://flakehub.com/f/NixOS/nixpkgs/01.2.3.tar.gz"},
		},
		{
			name:     "forge archive",
			raw:      "https://github.com/NixOS/nixpkgs/archive/nixos-23.11.tar.gz",
			expected: TarballRef{URL: "https://github.com/NixOS/nixpkgs/archive/nixos-23.11.tar.gz"},
		},
		{
			name:     "generic archive",
			raw:      "https://example.com/releases/foo.zip",
			expected: TarballRef{URL: "https://example.com/releases/foo.zip"},
		},
		{
			name:     "tarball scheme",
			raw:      "tarball+https://example.com/foo",
			expected: TarballRef{URL: "tarball+https://example.com/foo"},
		},
		{
			name:     "path scheme",
			raw:      "path:/home/user/flake",
			expected: PathRef{Path: "/home/user/flake", Scheme: true},
		},
		{
			name:     "relative path",
			raw:      "./sub",
			expected: PathRef{Path: "./sub"},
		},
		{
			name:     "flake registry",
			raw:      "flake:nixpkgs",
			expected: IndirectRef{ID: "nixpkgs"},
		},
		{
			name:     "bare indirect",
			raw:      "nixpkgs",
			expected: IndirectRef{ID: "nixpkgs"},
		},
		{
			name:     "plain http url",
			raw:      "https://example.com/foo",
			expected: Unrecognized{Raw: "https://example.com/foo"},
		},
		{
			name:     "git url",
			raw:      "git+https://example.com/foo.git",
			expected: Unrecognized{Raw: "git+https://example.com/foo.git"},
		},
		{
			name:     "owner only",
			raw:      "github:NixOS",
			expected: Unrecognized{Raw: "github:NixOS"},
		},
		{
			name:     "empty",
			raw:      "",
			expected: Unrecognized{Raw: ""},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Classify(tc.raw))
		})
	}
}

func TestClassifyIsTotal(t *testing.T) {
	inputs := []string{
		"", ":", "::::", "github:", "github:/", "github://", "https://", "https://flakehub.com",
		"https://flakehub.com/f", "https://flakehub.com/f///", "path:", "flake:", "%%%", "\x00",
		"https://[::1", "github:a/b/c/d", "~", "..", "/",
	}

	for _, raw := range inputs {
		t.Run(raw, func(t *testing.T) {
			var loc Locator
			assert.NotPanics(t, func() { loc = Classify(raw) })
			require.NotNil(t, loc)
			if loc.Kind() == KindUnrecognized {
				assert.Equal(t, raw, loc.String())
			}
		})
	}
}

func TestLocatorStringRoundTrip(t *testing.T) {
	testCases := []string{
		"github:NixOS/nixpkgs",
		"github:NixOS/nixpkgs/nixos-23.11",
		"gitlab:foo/bar?dir=sub",
		"github:NixOS/nixpkgs?rev=" + testRev,
		"github:o/r?ref=v1.2.3&dir=sub",
		"github:o/r/main?rev=abc",
		"https://flakehub.com/f/NixOS/nixpkgs/0.2311.*.tar.gz",
		"https://flakehub.com/f/DeterminateSystems/fh/0.1.0+rev-abc.tar.gz",
		"https://api.flakehub.com/f/NixOS/nixpkgs/*",
		"path:/srv/flake",
		"flake:nixpkgs",
		"https://example.com/foo.tar.gz",
	}

	for _, tc := range testCases {
		t.Run(tc, func(t *testing.T) {
			assert.Equal(t, tc, Classify(tc).String())
		})
	}
}

func TestShadowedPin(t *testing.T) {
	param, value, ok := Classify("github:o/r/main?dir=sub&rev=abc").(VcsRef).ShadowedPin()
	require.True(t, ok)
	assert.Equal(t, "rev", param)
	assert.Equal(t, "abc", value)

	for _, raw := range []string{"github:o/r?rev=abc", "github:o/r/main?dir=sub", "github:o/r"} {
		_, _, ok := Classify(raw).(VcsRef).ShadowedPin()
		assert.False(t, ok, raw)
	}
}

func TestTarballForgeOrigin(t *testing.T) {
	ref := TarballRef{URL: "https://github.com/NixOS/nixpkgs/archive/refs/tags/23.11.tar.gz"}
	origin, ok := ref.ForgeOrigin()
	require.True(t, ok)
	assert.Equal(t, VcsRef{Host: "github", Owner: "NixOS", Project: "nixpkgs", Pin: "23.11"}, origin)

	_, ok = TarballRef{URL: "https://example.com/a/b/archive/main.tar.gz"}.ForgeOrigin()
	assert.False(t, ok)
}

func TestClassifyAttrs(t *testing.T) {
	testCases := []struct {
		name     string
		attrs    map[string]string
		expected Locator
	}{
		{
			name:     "github",
			attrs:    map[string]string{"type": "github", "owner": "NixOS", "repo": "nixpkgs", "ref": "nixos-23.11"},
			expected: VcsRef{Host: "github", Owner: "NixOS", Project: "nixpkgs", Pin: "nixos-23.11"},
		},
		{
			name:     "github rev with dir",
			attrs:    map[string]string{"type": "github", "owner": "o", "repo": "r", "rev": "abc", "dir": "sub"},
			expected: VcsRef{Host: "github", Owner: "o", Project: "r", Pin: "abc", Query: "dir=sub"},
		},
		{
			name:     "path",
			attrs:    map[string]string{"type": "path", "path": "/srv/flake"},
			expected: PathRef{Path: "/srv/flake", Scheme: true},
		},
		{
			name:     "indirect",
			attrs:    map[string]string{"type": "indirect", "id": "nixpkgs"},
			expected: IndirectRef{ID: "nixpkgs"},
		},
		{
			name:     "git is unrecognized",
			attrs:    map[string]string{"type": "git", "url": "https://example.com/x.git"},
			expected: Unrecognized{Raw: `{ type = "git"; url = "https://example.com/x.git"; }`},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ClassifyAttrs(tc.attrs))
		})
	}
}

func TestIsCommitHash(t *testing.T) {
	assert.True(t, isCommitHash("0123456789abcdef0123456789abcdef01234567"))
	assert.False(t, isCommitHash("0123456789ABCDEF0123456789abcdef01234567"))
	assert.False(t, isCommitHash("main"))
}
