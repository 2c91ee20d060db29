package flake

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
)

// FlakeLock is the contents of a flake.lock file.
type FlakeLock struct {
	Nodes   map[string]LockNode `json:"nodes"`
	Root    string              `json:"root"`
	Version int                 `json:"version"`
}

type LockNode struct {
	Locked   *Locked   `json:"locked,omitempty"`
	Original *Original `json:"original,omitempty"`
	Flake    *bool     `json:"flake,omitempty"`

	// Inputs maps an input name to a node key, or to a follows path given
	// as a list of input names starting at the root node.
	Inputs map[string]any `json:"inputs,omitempty"`
}

type Locked struct {
	LastModified int64  `json:"lastModified,omitempty"`
	NarHash      string `json:"narHash,omitempty"`
	Owner        string `json:"owner,omitempty"`
	Repo         string `json:"repo,omitempty"`
	Rev          string `json:"rev,omitempty"`
	Ref          string `json:"ref,omitempty"`
	Type         string `json:"type,omitempty"`
	Host         string `json:"host,omitempty"`
	URL          string `json:"url,omitempty"`
	Path         string `json:"path,omitempty"`
	Dir          string `json:"dir,omitempty"`
}

type Original struct {
	Owner string `json:"owner,omitempty"`
	Ref   string `json:"ref,omitempty"`
	Rev   string `json:"rev,omitempty"`
	Repo  string `json:"repo,omitempty"`
	Type  string `json:"type,omitempty"`
	URL   string `json:"url,omitempty"`
	ID    string `json:"id,omitempty"`
	Path  string `json:"path,omitempty"`
}

// Relations describes which lock nodes depend on which locked sources.
type Relations struct {
	// Deps maps a locked source URL to the nodes that depend on it.
	Deps map[string][]string
	// ReverseDeps maps a node key to the nodes that depend on it.
	ReverseDeps map[string][]string
}

// ReadLock loads a flake.lock from disk.
func ReadLock(path string) (*FlakeLock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading flake.lock: %w", err)
	}
	return ParseLock(data)
}

func ParseLock(data []byte) (*FlakeLock, error) {
	var lock FlakeLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("error decoding flake.lock: %w", err)
	}
	if lock.Root == "" {
		lock.Root = "root"
	}
	if _, ok := lock.Nodes[lock.Root]; !ok {
		return nil, fmt.Errorf("error decoding flake.lock: root node %q is missing", lock.Root)
	}
	return &lock, nil
}

// SourceURL renders the locked reference as a flake URL pinned to its
// revision and hash.
func (l *Locked) SourceURL() string {
	var base string
	switch l.Type {
	case "github", "gitlab", "sourcehut":
		base = fmt.Sprintf("%s:%s/%s", l.Type, l.Owner, l.Repo)
	case "git", "hg":
		base = l.Type + "+" + l.URL
	case "tarball", "file":
		base = l.URL
	case "path":
		base = fmt.Sprintf("%s:%s", l.Type, l.Path)
	default:
		return ""
	}

	query := url.Values{}
	if l.Host != "" {
		query.Set("host", l.Host)
	}
	if l.Dir != "" {
		query.Set("dir", l.Dir)
	}

	params := make([]string, 0, 3)
	if encoded := query.Encode(); encoded != "" {
		params = append(params, encoded)
	}
	if l.Rev != "" {
		params = append(params, "rev="+l.Rev)
	}
	if l.NarHash != "" {
		params = append(params, "narHash="+l.NarHash)
	}
	if len(params) == 0 {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + strings.Join(params, "&")
}

// LockedInput is a root input as recorded in flake.lock.
type LockedInput struct {
	Name    string
	Node    string
	Follows []string
	Locked  *Locked
}

// RootInput resolves the root input called name, following follows paths.
func (l *FlakeLock) RootInput(name string) (LockedInput, bool) {
	root := l.Nodes[l.Root]
	ref, ok := root.Inputs[name]
	if !ok {
		return LockedInput{}, false
	}

	in := LockedInput{Name: name}
	switch v := ref.(type) {
	case string:
		in.Node = v
	case []any:
		for _, segment := range v {
			if s, ok := segment.(string); ok {
				in.Follows = append(in.Follows, s)
			}
		}
		key, ok := l.resolvePath(in.Follows)
		if !ok {
			return in, true
		}
		in.Node = key
	}

	if node, ok := l.Nodes[in.Node]; ok {
		in.Locked = node.Locked
	}
	return in, true
}

func (l *FlakeLock) resolvePath(path []string) (string, bool) {
	key := l.Root
	for _, name := range path {
		node, ok := l.Nodes[key]
		if !ok {
			return "", false
		}
		switch v := node.Inputs[name].(type) {
		case string:
			key = v
		case []any:
			nested := make([]string, 0, len(v))
			for _, segment := range v {
				if s, ok := segment.(string); ok {
					nested = append(nested, s)
				}
			}
			resolved, ok := l.resolvePath(nested)
			if !ok {
				return "", false
			}
			key = resolved
		default:
			return "", false
		}
	}
	return key, true
}

// AnalyzeLock groups the lock's nodes by locked source. Sources reached
// through several nodes with different revisions show up as separate Deps
// keys sharing a repository; see Duplicates.
func AnalyzeLock(lock *FlakeLock) Relations {
	deps := make(map[string][]string)
	reverseDeps := make(map[string][]string)

	for _, name := range sortedKeys(lock.Nodes) {
		for _, input := range lock.Nodes[name].Inputs {
			target, ok := input.(string)
			if !ok {
				continue
			}
			reverseDeps[target] = append(reverseDeps[target], name)
		}
	}

	for _, name := range sortedKeys(lock.Nodes) {
		node := lock.Nodes[name]
		if node.Locked == nil {
			continue
		}
		source := node.Locked.SourceURL()
		if source == "" {
			continue
		}
		dependants := reverseDeps[name]
		if len(dependants) == 0 {
			dependants = []string{name}
		}
		for _, dependant := range dependants {
			if !slices.Contains(deps[source], dependant) {
				deps[source] = append(deps[source], dependant)
			}
		}
	}

	return Relations{Deps: deps, ReverseDeps: reverseDeps}
}

// Duplicates returns every repository locked at more than one revision,
// mapped to its locked URLs in sorted order.
func Duplicates(deps map[string][]string) map[string][]string {
	byRepo := make(map[string][]string)
	for source := range deps {
		repo, _, _ := strings.Cut(source, "?")
		byRepo[repo] = append(byRepo[repo], source)
	}
	for repo, urls := range byRepo {
		if len(urls) < 2 {
			delete(byRepo, repo)
			continue
		}
		slices.Sort(urls)
	}
	return byRepo
}
