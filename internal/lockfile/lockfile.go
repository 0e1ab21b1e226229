// Package lockfile implements the npm v3 ("packages"-keyed)
// package-lock.json codec: generating one from a resolved
// DependencyTree, parsing one back, diffing two, and validating one.
package lockfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/npmcore/npmcore/internal/archive"
	"github.com/npmcore/npmcore/internal/npmerr"
	"github.com/npmcore/npmcore/internal/semver"
	"github.com/npmcore/npmcore/internal/tree"
)

// CurrentVersion is the lockfileVersion this package emits.
const CurrentVersion = 3

// Entry is the per-path record in the "packages" map.
type Entry struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`

	Resolved  string `json:"resolved,omitempty"`
	Integrity string `json:"integrity,omitempty"`

	Dev      bool `json:"dev,omitempty"`
	Optional bool `json:"optional,omitempty"`
	InBundle bool `json:"inBundle,omitempty"`

	Dependencies         map[string]string `json:"dependencies,omitempty"`
	PeerDependencies     map[string]string `json:"peerDependencies,omitempty"`
	OptionalDependencies map[string]string `json:"optionalDependencies,omitempty"`

	OS  []string `json:"os,omitempty"`
	CPU []string `json:"cpu,omitempty"`
}

// LockFile is the root document.
type LockFile struct {
	Name            string           `json:"name"`
	Version         string           `json:"version"`
	LockfileVersion int              `json:"lockfileVersion"`
	Requires        bool             `json:"requires,omitempty"`
	Packages        map[string]Entry `json:"packages"`
}

// Generate builds a LockFile from t. rootRanges carries the root
// manifest's declared dependency ranges (not recoverable from the
// resolved tree alone), recorded on the root ("") entry.
func Generate(t *tree.DependencyTree, rootRanges map[string]string) *LockFile {
	packages := map[string]Entry{
		"": {
			Name:         t.Name,
			Version:      t.Version,
			Dependencies: rootRanges,
		},
	}
	for name, node := range t.Resolved {
		path := "node_modules/" + name
		addEntry(packages, path, node)
	}
	return &LockFile{
		Name:            t.Name,
		Version:         t.Version,
		LockfileVersion: CurrentVersion,
		Requires:        true,
		Packages:        packages,
	}
}

func addEntry(packages map[string]Entry, path string, node *tree.DependencyNode) {
	packages[path] = Entry{
		Version:              node.Version,
		Resolved:             node.Resolved,
		Integrity:            node.Integrity,
		Dev:                  node.Dev,
		Optional:             node.Optional,
		InBundle:             false,
		Dependencies:         node.Dependencies,
		PeerDependencies:     node.PeerDependencies,
		OptionalDependencies: nil,
		OS:                   nil,
		CPU:                  nil,
	}
	bundledChildren := make(map[string]bool, len(node.BundledDependencies))
	for _, name := range node.BundledDependencies {
		bundledChildren[name] = true
	}
	for name, child := range node.NestedDependencies {
		addEntry(packages, path+"/node_modules/"+name, child)
		if bundledChildren[name] {
			entry := packages[path+"/node_modules/"+name]
			entry.InBundle = true
			packages[path+"/node_modules/"+name] = entry
		}
	}
}

// Parse decodes raw package-lock.json bytes.
func Parse(data []byte) (*LockFile, error) {
	var lf LockFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, npmerr.New(npmerr.EParse, "malformed lockfile: %v", err)
	}
	if lf.LockfileVersion != 0 && lf.LockfileVersion < 2 {
		return nil, npmerr.New(npmerr.EParse, "lockfileVersion %d (pre-v2, no \"packages\" field) is not supported", lf.LockfileVersion)
	}
	return &lf, nil
}

// Encode serializes lf the way npm does: two-space indent, unescaped HTML.
func (lf *LockFile) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(lf); err != nil {
		return nil, npmerr.Wrap(err, npmerr.EParse)
	}
	return buf.Bytes(), nil
}

// ToTree rebuilds a DependencyTree from the path-keyed packages map,
// the inverse of Generate (modulo anything Generate intentionally
// dropped, like rootRanges living on the "" entry instead of per-node).
func ToTree(lf *LockFile) (*tree.DependencyTree, error) {
	root, ok := lf.Packages[""]
	if !ok {
		return nil, npmerr.New(npmerr.EParse, "lockfile missing root package entry")
	}

	resolved := make(map[string]*tree.DependencyNode)
	nodesByPath := make(map[string]*tree.DependencyNode, len(lf.Packages))

	paths := make([]string, 0, len(lf.Packages))
	for path := range lf.Packages {
		if path == "" {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths) // parents sort before their nested children

	for _, path := range paths {
		entry := lf.Packages[path]
		segments := strings.Split(path, "node_modules/")
		name := segments[len(segments)-1]
		name = strings.TrimSuffix(name, "/")

		node := &tree.DependencyNode{
			Name:               name,
			Version:            entry.Version,
			Dependencies:       entry.Dependencies,
			PeerDependencies:   entry.PeerDependencies,
			Dev:                entry.Dev,
			Optional:           entry.Optional,
			Integrity:          entry.Integrity,
			Resolved:           entry.Resolved,
			NestedDependencies: make(map[string]*tree.DependencyNode),
		}
		nodesByPath[path] = node

		parentPath := parentOf(path)
		if parentPath == "" {
			resolved[name] = node
			continue
		}
		parent, ok := nodesByPath[parentPath]
		if !ok {
			return nil, npmerr.New(npmerr.EParse, "lockfile entry %q has no parent entry %q", path, parentPath)
		}
		parent.NestedDependencies[name] = node
		if entry.InBundle {
			parent.HasBundled = true
			parent.BundledDependencies = append(parent.BundledDependencies, name)
		}
	}

	return &tree.DependencyTree{
		Name:     root.Name,
		Version:  root.Version,
		Resolved: resolved,
	}, nil
}

// parentOf returns the path one node_modules segment up, or "" if path
// is already a root-level "node_modules/<name>" entry.
func parentOf(path string) string {
	const marker = "/node_modules/"
	idx := strings.LastIndex(path, marker)
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// VersionChange is one root-level package whose version differs between
// the two trees a Diff was computed over.
type VersionChange struct {
	Name       string
	OldVersion string
	NewVersion string
}

// Summary holds the counts backing a DiffResult's four buckets.
type Summary struct {
	Added     int
	Removed   int
	Updated   int
	Unchanged int
}

// DiffResult is the outcome of comparing two trees' root-level resolved
// package sets by name: every name present in only one tree is Added or
// Removed, every name present in both at different versions is Updated,
// and every name present in both at the same version is Unchanged.
// Nested (non-root) placements are not compared; hoisting is free to
// rearrange them without that counting as a dependency change.
type DiffResult struct {
	Added     []string
	Removed   []string
	Updated   []VersionChange
	Unchanged []string
	Summary   Summary
}

// Diff compares before and after's root-level Resolved package sets by
// name.
func Diff(before, after *tree.DependencyTree) DiffResult {
	var result DiffResult

	for name, node := range before.Resolved {
		other, ok := after.Resolved[name]
		switch {
		case !ok:
			result.Removed = append(result.Removed, name)
		case other.Version != node.Version:
			result.Updated = append(result.Updated, VersionChange{Name: name, OldVersion: node.Version, NewVersion: other.Version})
		default:
			result.Unchanged = append(result.Unchanged, name)
		}
	}
	for name := range after.Resolved {
		if _, ok := before.Resolved[name]; !ok {
			result.Added = append(result.Added, name)
		}
	}

	sort.Strings(result.Added)
	sort.Strings(result.Removed)
	sort.Strings(result.Unchanged)
	sort.Slice(result.Updated, func(i, j int) bool { return result.Updated[i].Name < result.Updated[j].Name })

	result.Summary = Summary{
		Added:     len(result.Added),
		Removed:   len(result.Removed),
		Updated:   len(result.Updated),
		Unchanged: len(result.Unchanged),
	}
	return result
}

// Warning is a non-fatal issue found while validating a lockfile.
// Validate never reports a lockfile as flatly invalid: every problem it
// can detect is recoverable by re-resolving, so it always returns
// (possibly empty) warnings rather than an error.
type Warning struct {
	Path    string
	Message string
}

// Validate checks structural and semantic consistency of lf, returning
// every issue found as a Warning.
func Validate(lf *LockFile) []Warning {
	var warnings []Warning

	if lf.LockfileVersion != CurrentVersion {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("lockfileVersion %d, expected %d", lf.LockfileVersion, CurrentVersion)})
	}

	for path, entry := range lf.Packages {
		if path == "" {
			continue
		}
		if entry.Version == "" {
			warnings = append(warnings, Warning{Path: path, Message: "missing version"})
		} else if _, err := semver.Parse(entry.Version); err != nil {
			warnings = append(warnings, Warning{Path: path, Message: "invalid version: " + err.Error()})
		}
		if entry.Integrity == "" {
			warnings = append(warnings, Warning{Path: path, Message: "missing integrity"})
		} else if len(archive.Parse(entry.Integrity)) == 0 {
			warnings = append(warnings, Warning{Path: path, Message: "invalid or unrecognized integrity string"})
		}
		if entry.Resolved == "" {
			warnings = append(warnings, Warning{Path: path, Message: "missing resolved"})
		}
		parentPath := parentOf(path)
		if parentPath != "" {
			if _, ok := lf.Packages[parentPath]; !ok {
				warnings = append(warnings, Warning{Path: path, Message: "parent entry " + parentPath + " is missing"})
			}
		}
	}

	return warnings
}
