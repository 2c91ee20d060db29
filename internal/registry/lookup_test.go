package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"notashelf.dev/fh/internal/flake"
)

const (
	agenixRev  = "0123456789abcdef0123456789abcdef01234567"
	nixpkgsRev = "fedcba9876543210fedcba9876543210fedcba98"
)

func buildGraph(t *testing.T, src string) *flake.Graph {
	t.Helper()
	g, err := flake.BuildGraph(src)
	require.NoError(t, err)
	return g
}

func TestFillLookupConvert(t *testing.T) {
	server, _ := newTestServer(t, map[string]string{
		"/f/NixOS/nixpkgs/releases": `[{"version": "0.2305.1+rev-aaaa", "simplified_version": "0.2305.1", "revision": "aaaa"}]`,
		"/f/ryantm/agenix/releases": `[{"version": "0.1.2+rev-` + agenixRev + `", "simplified_version": "0.1.2", "revision": "` + agenixRev + `"}]`,
		"/f/numtide/flake-utils/releases": `[{"version": "1.0.0", "simplified_version": "1.0.0", "revision": "bbbb"}]`,
		"/version/NixOS/nixpkgs/0.2311.*": `{"version": "0.2311.554+rev-` + nixpkgsRev + `", "source_github_owner_repo_pair": "NixOS/nixpkgs"}`,
	})
	c := newTestClient(t, server.URL)

	src := `{
  inputs.nixpkgs.url = "github:NixOS/nixpkgs/nixos-23.11";
  inputs.agenix.url = "github:ryantm/agenix/` + agenixRev + `";
  inputs.utils.url = "github:numtide/flake-utils/v1.0.0";
  inputs.unknown.url = "github:someone/else";
  inputs.lab.url = "gitlab:owner/repo";
  inputs.local.url = "path:./local";
  outputs = _: { };
}`
	g := buildGraph(t, src)

	lookup := flake.NewStaticLookup()
	require.NoError(t, c.FillLookup(context.Background(), g, lookup))

	out, report, err := flake.ConvertAll(g, src, lookup)
	require.NoError(t, err)
	assert.Contains(t, out, `inputs.nixpkgs.url = "https://flakehub.com/f/NixOS/nixpkgs/0.2311.*.tar.gz";`)
	assert.Contains(t, out, `inputs.agenix.url = "https://flakehub.com/f/ryantm/agenix/0.1.2+rev-`+agenixRev+`.tar.gz";`)
	assert.Contains(t, out, `inputs.utils.url = "https://flakehub.com/f/numtide/flake-utils/1.0.0+v1.0.0.tar.gz";`)
	assert.Contains(t, out, `inputs.unknown.url = "github:someone/else";`)
	assert.Contains(t, out, `inputs.lab.url = "gitlab:owner/repo";`)
	assert.Equal(t, 3, report.Count(flake.StatusConverted))
	assert.Empty(t, report.Warnings)
}

func TestFillLookupChannelBranches(t *testing.T) {
	server, _ := newTestServer(t, map[string]string{
		"/f/NixOS/nixpkgs/releases": `[]`,
		"/version/NixOS/nixpkgs/0.1.*":    `{"version": "0.1.750000+rev-` + nixpkgsRev + `", "source_github_owner_repo_pair": "NixOS/nixpkgs"}`,
		"/version/NixOS/nixpkgs/0.2305.*": `{"version": "0.2305.100+rev-` + nixpkgsRev + `", "source_github_owner_repo_pair": "NixOS/nixpkgs"}`,
	})
	c := newTestClient(t, server.URL)

	src := `{
  inputs.unstable.url = "github:NixOS/nixpkgs/nixos-unstable";
  inputs.pkgs.url = "github:NixOS/nixpkgs/nixpkgs-unstable";
  inputs.darwin.url = "github:NixOS/nixpkgs/nixpkgs-23.05-darwin";
  inputs.small.url = "github:NixOS/nixpkgs?ref=nixos-23.05-small";
  inputs.unpublished.url = "github:NixOS/nixpkgs/nixos-24.05";
  outputs = _: { };
}`
	g := buildGraph(t, src)
	lookup := flake.NewStaticLookup()
	require.NoError(t, c.FillLookup(context.Background(), g, lookup))

	out, report, err := flake.ConvertAll(g, src, lookup)
	require.NoError(t, err)
	assert.Equal(t, `{
  inputs.unstable.url = "https://flakehub.com/f/NixOS/nixpkgs/0.1.*.tar.gz";
  inputs.pkgs.url = "https://flakehub.com/f/NixOS/nixpkgs/0.1.*.tar.gz";
  inputs.darwin.url = "https://flakehub.com/f/NixOS/nixpkgs/0.2305.*.tar.gz";
  inputs.small.url = "https://flakehub.com/f/NixOS/nixpkgs/0.2305.*.tar.gz";
  inputs.unpublished.url = "https://flakehub.com/f/NixOS/nixpkgs/*.tar.gz";
  outputs = _: { };
}`, out)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "unpublished", report.Warnings[0].Input)
}

func TestNixpkgsSeries(t *testing.T) {
	testCases := []struct {
		pin    string
		series uint64
		ok     bool
	}{
		{pin: "nixos-23.11", series: 2311, ok: true},
		{pin: "nixos-23.11-small", series: 2311, ok: true},
		{pin: "nixpkgs-24.05-darwin", series: 2405, ok: true},
		{pin: "nixos-20.03", series: 2003, ok: true},
		{pin: "nixos-unstable", series: 1, ok: true},
		{pin: "nixpkgs-unstable", series: 1, ok: true},
		{pin: "nixos-unstable-small", series: 1, ok: true},
		{pin: "nixos-19.09", ok: false},
		{pin: "nixos-23.11-large", ok: false},
		{pin: "master", ok: false},
	}

	for _, tc := range testCases {
		t.Run(tc.pin, func(t *testing.T) {
			series, ok := nixpkgsSeries(tc.pin)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.series, series)
		})
	}
}

func TestFillLookupUnknownPin(t *testing.T) {
	server, _ := newTestServer(t, map[string]string{
		"/f/NixOS/nixpkgs/releases": `[]`,
	})
	c := newTestClient(t, server.URL)

	src := `{ inputs.nixpkgs.url = "github:NixOS/nixpkgs/nixos-19.09"; outputs = _: { }; }`
	g := buildGraph(t, src)
	lookup := flake.NewStaticLookup()
	require.NoError(t, c.FillLookup(context.Background(), g, lookup))

	out, report, err := flake.ConvertAll(g, src, lookup)
	require.NoError(t, err)
	assert.Contains(t, out, `"https://flakehub.com/f/NixOS/nixpkgs/*.tar.gz"`)
	assert.Len(t, report.Warnings, 1)
}

func TestFillLookupPropagatesFailures(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", WithMaxRetries(0))
	g := buildGraph(t, `{ inputs.nixpkgs.url = "github:NixOS/nixpkgs"; outputs = _: { }; }`)

	err := c.FillLookup(context.Background(), g, flake.NewStaticLookup())
	assert.Error(t, err)
}

func TestFillReverseLookupEject(t *testing.T) {
	server, _ := newTestServer(t, map[string]string{
		"/version/NixOS/nixpkgs/*":         `{"version": "0.1.0+rev-` + nixpkgsRev + `", "source_github_owner_repo_pair": "NixOS/nixpkgs", "source_subdirectory": null}`,
		"/version/edolstra/blender-bin/*":  `{"version": "1.0.0", "source_github_owner_repo_pair": "edolstra/nix-warez", "source_subdirectory": "blender"}`,
		"/version/ryantm/agenix/0.1.2":     `{"version": "0.1.2", "source_github_owner_repo_pair": "ryantm/agenix"}`,
		"/f/some/project/releases":         `[]`,
	})
	c := newTestClient(t, server.URL)

	src := `{
  inputs = {
    nixpkgs.url = "https://flakehub.com/f/NixOS/nixpkgs/*.tar.gz";
    blender.url = "https://flakehub.com/f/edolstra/blender-bin/*.tar.gz";
    agenix.url = "https://flakehub.com/f/ryantm/agenix/0.1.2.tar.gz";
    missing.url = "https://flakehub.com/f/some/project/9.9.9.tar.gz";
    nobody.url = "https://flakehub.com/f/nobody/nothing/*.tar.gz";
  };
  outputs = _: { };
}`
	g := buildGraph(t, src)

	lookup := flake.NewStaticLookup()
	require.NoError(t, c.FillReverseLookup(context.Background(), g, lookup))

	out, report, err := flake.EjectAll(g, src, lookup)
	require.NoError(t, err)
	assert.Equal(t, `{
  inputs = {
    nixpkgs.url = "github:NixOS/nixpkgs";
    blender.url = "github:edolstra/nix-warez?dir=blender";
    agenix.url = "github:ryantm/agenix/0.1.2";
    missing.url = "https://flakehub.com/f/some/project/9.9.9.tar.gz";
    nobody.url = "https://flakehub.com/f/nobody/nothing/*.tar.gz";
  };
  outputs = _: { };
}`, out)

	reasons := make(map[string]flake.SkipReason)
	for _, outcome := range report.Outcomes {
		reasons[outcome.Input] = outcome.Reason
	}
	assert.Equal(t, flake.SkipNoMatchingVersion, reasons["missing"])
	assert.Equal(t, flake.SkipUnknownProvenance, reasons["nobody"])
}

func TestSourceRepo(t *testing.T) {
	subdir := "sub"
	repo, err := sourceRepo(&VersionMetadata{SourceGithubOwnerRepoPair: "o/r", SourceSubdirectory: &subdir})
	require.NoError(t, err)
	assert.Equal(t, "github:o/r?dir=sub", repo.String())

	for _, pair := range []string{"", "o", "o/", "/r", "o/r/x"} {
		_, err := sourceRepo(&VersionMetadata{SourceGithubOwnerRepoPair: pair})
		assert.Error(t, err, pair)
	}
}
