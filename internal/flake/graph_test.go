package flake

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notashelf.dev/fh/internal/nixexpr"
)

const exampleFlake = `{
  description = "example";

  inputs = {
    # the package set
    nixpkgs.url = "github:NixOS/nixpkgs/nixos-23.11";
    flake-utils = {
      url = "github:numtide/flake-utils";
    };
    agenix.url = "github:ryantm/agenix";
    agenix.inputs.nixpkgs.follows = "nixpkgs";
    secrets = { url = "path:./secrets"; flake = false; };
  };

  inputs.home-manager.url = "github:nix-community/home-manager";
  inputs.home-manager.inputs.nixpkgs.follows = "nixpkgs";

  outputs = { self, nixpkgs, ... } @ inputs: {
    packages = { };
  };
}
`

func mustGraph(t *testing.T, src string) *Graph {
	t.Helper()
	g, err := BuildGraph(src)
	require.NoError(t, err)
	return g
}

func TestBuildGraphForms(t *testing.T) {
	g := mustGraph(t, exampleFlake)

	assert.Equal(t, []string{
		"nixpkgs",
		"flake-utils",
		"agenix",
		"agenix.inputs.nixpkgs",
		"secrets",
		"home-manager",
		"home-manager.inputs.nixpkgs",
	}, g.Names())
	assert.Empty(t, g.Warnings)

	testCases := []struct {
		name    string
		locator Locator
		follows string
		isFlake bool
		text    string
	}{
		{
			name:    "nixpkgs",
			locator: VcsRef{Host: "github", Owner: "NixOS", Project: "nixpkgs", Pin: "nixos-23.11"},
			isFlake: true,
			text:    `"github:NixOS/nixpkgs/nixos-23.11"`,
		},
		{
			name:    "flake-utils",
			locator: VcsRef{Host: "github", Owner: "numtide", Project: "flake-utils"},
			isFlake: true,
			text:    `"github:numtide/flake-utils"`,
		},
		{
			name:    "agenix.inputs.nixpkgs",
			follows: "nixpkgs",
			isFlake: true,
			text:    `"nixpkgs"`,
		},
		{
			name:    "secrets",
			locator: PathRef{Path: "./secrets", Scheme: true},
			isFlake: false,
			text:    `"path:./secrets"`,
		},
		{
			name:    "home-manager",
			locator: VcsRef{Host: "github", Owner: "nix-community", Project: "home-manager"},
			isFlake: true,
			text:    `"github:nix-community/home-manager"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			spec, ok := g.Input(tc.name)
			require.True(t, ok)

			assert.Equal(t, tc.isFlake, spec.IsFlake)
			if tc.follows != "" {
				assert.True(t, spec.Follows)
				assert.Nil(t, spec.Locator)
				assert.Equal(t, tc.follows, spec.FollowsTarget)
			} else {
				assert.False(t, spec.Follows)
				assert.Equal(t, tc.locator, spec.Locator)
			}

			require.Len(t, spec.Spans, 1)
			span := spec.Spans[0]
			assert.Equal(t, tc.text, exampleFlake[span.Start:span.End])
		})
	}
}

func TestBuildGraphOutputs(t *testing.T) {
	g := mustGraph(t, exampleFlake)

	require.NotNil(t, g.Outputs)
	assert.True(t, g.Outputs.Pattern)
	assert.True(t, g.Outputs.Ellipsis)
	assert.Equal(t, "inputs", g.Outputs.Bind)
	assert.True(t, g.Outputs.Has("nixpkgs"))
	assert.False(t, g.Outputs.Has("agenix"))

	g = mustGraph(t, `{ inputs.a.url = "github:o/a"; outputs = inputs: { }; }`)
	assert.True(t, g.Outputs.Simple)
}

func TestBuildGraphDuplicateBlocks(t *testing.T) {
	src := `{
  inputs = {
    nixpkgs.url = "github:NixOS/nixpkgs";
    shared.url = "github:old/shared";
  };
  inputs = {
    utils.url = "github:numtide/flake-utils";
    shared.url = "github:new/shared";
  };
  outputs = _: { };
}`
	g := mustGraph(t, src)

	assert.Equal(t, []string{"nixpkgs", "shared", "utils"}, g.Names())

	shared, ok := g.Input("shared")
	require.True(t, ok)
	assert.Equal(t, VcsRef{Host: "github", Owner: "new", Project: "shared"}, shared.Locator)

	require.Len(t, g.Warnings, 1)
	assert.Equal(t, "shared", g.Warnings[0].Input)
	assert.Contains(t, g.Warnings[0].Message, "inputs.shared.url is declared more than once")
	assert.Contains(t, g.Warnings[0].Message, "4:18")
	assert.Contains(t, g.Warnings[0].Message, "8:18")
}

func TestBuildGraphNestedAndDottedSameKey(t *testing.T) {
	src := `{
  inputs.nixpkgs.url = "github:NixOS/nixpkgs/nixos-23.05";
  inputs = { nixpkgs.url = "github:NixOS/nixpkgs/nixos-23.11"; };
  outputs = _: { };
}`
	g := mustGraph(t, src)

	spec, ok := g.Input("nixpkgs")
	require.True(t, ok)
	assert.Equal(t, "nixos-23.11", spec.Locator.(VcsRef).Pin)
	require.Len(t, g.Warnings, 1)
}

func TestBuildGraphURLAndFollows(t *testing.T) {
	src := `{
  inputs.a.inputs.nixpkgs.url = "github:NixOS/nixpkgs";
  inputs.a.inputs.nixpkgs.follows = "nixpkgs";
  outputs = _: { };
}`
	g := mustGraph(t, src)

	spec, ok := g.Input("a.inputs.nixpkgs")
	require.True(t, ok)
	assert.True(t, spec.Follows)
	assert.Nil(t, spec.Locator)
	require.Len(t, g.Warnings, 1)
	assert.Contains(t, g.Warnings[0].Message, "using follows")
}

func TestBuildGraphImplicitIndirect(t *testing.T) {
	src := `{
  inputs.nixpkgs.inputs.foo.follows = "bar";
  outputs = _: { };
}`
	g := mustGraph(t, src)

	spec, ok := g.Input("nixpkgs")
	require.True(t, ok)
	assert.Equal(t, IndirectRef{ID: "nixpkgs", Implicit: true}, spec.Locator)
	assert.Equal(t, FormImplicit, spec.Form)
	assert.Empty(t, spec.Spans)
}

func TestBuildGraphAttrLocator(t *testing.T) {
	src := `{
  inputs.nixpkgs = {
    type = "github";
    owner = "NixOS";
    repo = "nixpkgs";
  };
  outputs = _: { };
}`
	g := mustGraph(t, src)

	spec, ok := g.Input("nixpkgs")
	require.True(t, ok)
	assert.Equal(t, FormAttrs, spec.Form)
	assert.Equal(t, VcsRef{Host: "github", Owner: "NixOS", Project: "nixpkgs"}, spec.Locator)
	require.Len(t, spec.Spans, 3)
	assert.Equal(t, `"github"`, src[spec.Spans[0].Start:spec.Spans[0].End])
}

func TestBuildGraphFollowsUnknownTarget(t *testing.T) {
	g := mustGraph(t, `{ inputs.a.inputs.b.follows = "does-not-exist"; outputs = _: { }; }`)

	spec, ok := g.Input("a.inputs.b")
	require.True(t, ok)
	assert.Equal(t, "does-not-exist", spec.FollowsTarget)
}

func TestBuildGraphMalformed(t *testing.T) {
	testCases := []struct {
		name string
		src  string
		path string
	}{
		{
			name: "inputs is a string",
			src:  `{ inputs = "github:o/r"; outputs = _: { }; }`,
			path: "inputs",
		},
		{
			name: "input is a string",
			src:  `{ inputs.nixpkgs = "github:o/r"; outputs = _: { }; }`,
			path: "inputs.nixpkgs",
		},
		{
			name: "interpolated url",
			src:  `{ inputs.nixpkgs.url = "github:${owner}/r"; outputs = _: { }; }`,
			path: "inputs.nixpkgs.url",
		},
		{
			name: "flake is not a boolean",
			src:  `{ inputs.nixpkgs.flake = "no"; outputs = _: { }; }`,
			path: "inputs.nixpkgs.flake",
		},
		{
			name: "dynamic input name",
			src:  `{ inputs.${name}.url = "github:o/r"; outputs = _: { }; }`,
			path: "inputs",
		},
		{
			name: "root is not an attribute set",
			src:  `let x = 1; in x`,
			path: "<root>",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildGraph(tc.src)
			var malformed *MalformedInputDeclError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, tc.path, malformed.Path)
		})
	}
}

func TestBuildGraphSyntaxError(t *testing.T) {
	_, err := BuildGraph("{\n  inputs.nixpkgs.url = ;\n}")
	var syntax *nixexpr.SyntaxError
	require.ErrorAs(t, err, &syntax)
	assert.Equal(t, 2, syntax.Line)
}

func TestBuildGraphIgnoresUnrelatedAttributes(t *testing.T) {
	src := strings.Join([]string{
		"{",
		`  description = "x";`,
		`  nixConfig.extra-substituters = [ "https://cache.example.com" ];`,
		`  inputs.nixpkgs.url = "github:NixOS/nixpkgs";`,
		`  outputs = { self, nixpkgs }: let pkgs = nixpkgs.legacyPackages; in { inherit pkgs; };`,
		"}",
	}, "\n")
	g := mustGraph(t, src)
	assert.Equal(t, []string{"nixpkgs"}, g.Names())
	assert.False(t, g.Outputs.Ellipsis)
}
