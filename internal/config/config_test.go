package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"notashelf.dev/fh/internal/flake"
)

// isolate points every lookup location at empty temporary directories.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	work := t.TempDir()
	t.Chdir(work)
	return work
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const sampleConfig = `
api_addr = "https://api.example.com"
output = "json"
timeout = "30s"
max_retries = 5

[[mappings]]
source = "github:NixOS/nixpkgs"
registry = "NixOS/nixpkgs"
`

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "https://api.flakehub.com", cfg.APIAddr)
	assert.Equal(t, "https://flakehub.com", cfg.FrontendAddr)
	assert.Equal(t, "pretty", cfg.Output)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.False(t, cfg.Offline)
	assert.NoError(t, cfg.Validate())
}

func TestDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	dir, err := Dir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/xdg/fh", dir)
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, path, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.toml"), sampleConfig)

	cfg, path, err := Load(LoadOptions{ConfigDir: dir})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.toml"), path)
	assert.Equal(t, "https://api.example.com", cfg.APIAddr)
	assert.Equal(t, "https://flakehub.com", cfg.FrontendAddr)
	assert.Equal(t, "json", cfg.Output)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, []Mapping{{Source: "github:NixOS/nixpkgs", Registry: "NixOS/nixpkgs"}}, cfg.Mappings)
}

func TestLoadLocalFile(t *testing.T) {
	work := isolate(t)
	writeFile(t, filepath.Join(work, LocalFileName), `offline = true`)

	cfg, path, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, LocalFileName, path)
	assert.True(t, cfg.Offline)
}

func TestLoadPrecedence(t *testing.T) {
	isolate(t)
	file := filepath.Join(t.TempDir(), "custom.toml")
	writeFile(t, file, sampleConfig)

	t.Setenv("FH_API_ADDR", "https://env.example.com")
	t.Setenv("FH_OUTPUT", "plain")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("output", "pretty", "")
	flags.String("api-addr", "", "")
	require.NoError(t, flags.Set("output", "json"))

	cfg, path, err := Load(LoadOptions{ConfigFile: file, Flags: flags})
	require.NoError(t, err)
	assert.Equal(t, file, path)
	assert.Equal(t, "https://env.example.com", cfg.APIAddr, "environment beats the config file")
	assert.Equal(t, "json", cfg.Output, "a set flag beats the environment")
	assert.Equal(t, 5, cfg.MaxRetries)
}

func TestLoadDotEnv(t *testing.T) {
	work := isolate(t)
	writeFile(t, filepath.Join(work, ".env"), "FH_OFFLINE=true\nFH_TIMEOUT=2s\n")
	t.Cleanup(func() {
		_ = os.Unsetenv("FH_OFFLINE")
		_ = os.Unsetenv("FH_TIMEOUT")
	})

	cfg, _, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.True(t, cfg.Offline)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
}

func TestLoadToken(t *testing.T) {
	isolate(t)
	writeFile(t, filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "flakehub", "auth"), "secret-token\n")

	cfg, _, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "secret-token", cfg.Token)
}

func TestLoadErrors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{name: "invalid toml", content: "api_addr = "},
		{name: "negative timeout", content: `timeout = "-1s"`},
		{name: "negative retries", content: "max_retries = -1"},
		{name: "pinned mapping", content: "[[mappings]]\nsource = \"github:o/r/main\"\nregistry = \"o/r\"\n"},
		{name: "bad registry", content: "[[mappings]]\nsource = \"github:o/r\"\nregistry = \"o\"\n"},
		{name: "relative frontend", content: `frontend_addr = "flakehub.example.com"`},
		{name: "query pinned mapping", content: "[[mappings]]\nsource = \"github:o/r?ref=main\"\nregistry = \"o/r\"\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			isolate(t)
			file := filepath.Join(t.TempDir(), "config.toml")
			writeFile(t, file, tc.content)

			_, _, err := Load(LoadOptions{ConfigFile: file})
			assert.Error(t, err)
		})
	}

	t.Run("missing explicit file", func(t *testing.T) {
		isolate(t)
		_, _, err := Load(LoadOptions{ConfigFile: "/nonexistent/fh.toml"})
		assert.ErrorContains(t, err, "config file not found")
	})
}

func TestStaticLookup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mappings = []Mapping{
		{Source: "github:NixOS/nixpkgs", Registry: "NixOS/nixpkgs"},
		{Source: "github:edolstra/nix-warez?dir=blender", Registry: "edolstra/blender-bin"},
	}

	lookup, err := cfg.StaticLookup()
	require.NoError(t, err)

	project, err := lookup.RegistryProject(flake.VcsRef{Host: "github", Owner: "nixos", Project: "NixPkgs", Pin: "nixos-unstable"})
	require.NoError(t, err)
	assert.Equal(t, flake.ProjectRef{Org: "NixOS", Project: "nixpkgs"}, project)

	repo, err := lookup.SourceRepo(flake.ProjectRef{Org: "edolstra", Project: "blender-bin"}, flake.Exact(1, 0, 0, ""))
	require.NoError(t, err)
	assert.Equal(t, "github:edolstra/nix-warez?dir=blender", repo.String())

	_, err = lookup.RegistryProject(flake.VcsRef{Host: "github", Owner: "someone", Project: "else"})
	assert.ErrorIs(t, err, flake.ErrUnknownProvenance)
}

func TestStaticLookupFrontend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FrontendAddr = "http://localhost:8080"
	cfg.Mappings = []Mapping{{Source: "github:NixOS/nixpkgs", Registry: "NixOS/nixpkgs"}}

	lookup, err := cfg.StaticLookup()
	require.NoError(t, err)

	scheme, host := lookup.RegistryFrontend()
	assert.Equal(t, "http", scheme)
	assert.Equal(t, "localhost:8080", host)

	g, err := flake.BuildGraph(`{ inputs.nixpkgs.url = "github:NixOS/nixpkgs"; outputs = _: { }; }`)
	require.NoError(t, err)
	in, ok := g.Input("nixpkgs")
	require.True(t, ok)

	edit, _, err := flake.ToRegistryForm(in, lookup)
	require.NoError(t, err)
	assert.Equal(t, `"http://localhost:8080/f/NixOS/nixpkgs/*.tar.gz"`, edit.Text)

	cfg.FrontendAddr = "::"
	_, err = cfg.StaticLookup()
	assert.ErrorContains(t, err, "frontend_addr")
}
