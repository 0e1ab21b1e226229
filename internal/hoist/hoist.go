// Package hoist turns a resolver Result into the flat-as-possible
// DependencyTree npm installs: one winning version per package name at
// the root, every other version nested beneath whichever package
// actually needed it.
package hoist

import (
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/pyr-sh/dag"

	"github.com/npmcore/npmcore/internal/resolve"
	"github.com/npmcore/npmcore/internal/semver"
	"github.com/npmcore/npmcore/internal/tree"
)

// Options configures a hoist pass.
type Options struct {
	Logger hclog.Logger
}

// Hoist selects, for every package name present anywhere in result, the
// version most requesters agreed on (ties broken by highest version),
// places it at the tree root, and nests every requester's non-matching
// requirement beneath that requester's own placement.
func Hoist(result *resolve.Result, opts Options) (*tree.DependencyTree, error) {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("hoist")

	orderByDependency(result, logger)

	winners := make(map[string]string, len(result.Requirements))
	for name, byRequester := range result.Requirements {
		if v, ok := pickWinner(byRequester); ok {
			winners[name] = v
		}
	}

	root := make(map[string]*tree.DependencyNode, len(winners))
	for name, version := range winners {
		node, ok := result.Nodes[name+"@"+version]
		if !ok {
			continue // optional dependency that never resolved
		}
		root[name] = node.CloneWithoutNested()
	}

	deduped := 0
	for name, placed := range root {
		id := name + "@" + placed.Version
		placed.NestedDependencies = buildNested(result, winners, id, map[string]bool{id: true}, &deduped)
	}

	stats := result.Stats
	stats.DeduplicatedPackages += deduped

	return &tree.DependencyTree{
		Name:     result.RootName,
		Version:  result.RootVersion,
		Resolved: root,
		Warnings: result.Warnings,
		Stats:    stats,
	}, nil
}

// buildNested recursively places parentID's own dependencies: anything
// satisfied by the root winner is skipped (every descendant can see the
// root node_modules), anything else is nested directly beneath parentID.
// stack guards against re-descending into a cycle.
func buildNested(result *resolve.Result, winners map[string]string, parentID string, stack map[string]bool, deduped *int) map[string]*tree.DependencyNode {
	parent, ok := result.Nodes[parentID]
	if !ok {
		return nil
	}

	var out map[string]*tree.DependencyNode
	for name := range allDeps(parent) {
		req, ok := lookupRequirement(result, name, parentID)
		if !ok || req.Version == "" {
			continue
		}
		if winners[name] == req.Version {
			*deduped++
			continue // satisfied by the root placement
		}
		childID := name + "@" + req.Version
		if stack[childID] {
			continue // cycle back into an ancestor already on this path
		}
		child, ok := result.Nodes[childID]
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[string]*tree.DependencyNode)
		}
		placed := child.CloneWithoutNested()
		nextStack := make(map[string]bool, len(stack)+1)
		for k := range stack {
			nextStack[k] = true
		}
		nextStack[childID] = true
		placed.NestedDependencies = buildNested(result, winners, childID, nextStack, deduped)
		out[name] = placed
	}
	return out
}

func allDeps(n *tree.DependencyNode) map[string]struct{} {
	names := make(map[string]struct{}, len(n.Dependencies)+len(n.PeerDependencies))
	for name := range n.Dependencies {
		names[name] = struct{}{}
	}
	for name := range n.PeerDependencies {
		names[name] = struct{}{}
	}
	return names
}

func lookupRequirement(result *resolve.Result, name, requester string) (resolve.Requirement, bool) {
	byRequester, ok := result.Requirements[name]
	if !ok {
		return resolve.Requirement{}, false
	}
	req, ok := byRequester[requester]
	return req, ok
}

// pickWinner implements majority-wins-then-highest-version: the version
// most requesters settled on wins; ties go to the higher version.
func pickWinner(byRequester map[string]resolve.Requirement) (string, bool) {
	counts := make(map[string]int)
	for _, req := range byRequester {
		if req.Version != "" {
			counts[req.Version]++
		}
	}
	if len(counts) == 0 {
		return "", false
	}

	best := ""
	bestCount := -1
	for version, count := range counts {
		if count > bestCount {
			best, bestCount = version, count
			continue
		}
		if count == bestCount {
			bv, err1 := semver.Parse(version)
			cv, err2 := semver.Parse(best)
			if err1 == nil && err2 == nil && semver.Less(cv, bv) {
				best = version
			}
		}
	}
	return best, true
}

// orderByDependency builds the requester->required dependency graph and
// walks it, purely to log how many vertices it holds; the walk's error is
// discarded and no cycle is reported. Edges run from a requester id
// (name@version or ROOT) to a bare package name, so the graph never
// contains a cycle; placement above tolerates dependency cycles on its
// own via the stack guard in buildNested.
func orderByDependency(result *resolve.Result, logger hclog.Logger) {
	g := &dag.AcyclicGraph{}
	g.Add("ROOT")
	for name, byRequester := range result.Requirements {
		g.Add(name)
		for requester := range byRequester {
			g.Add(requester)
			g.Connect(dag.BasicEdge(requester, name))
		}
	}

	var mu sync.Mutex
	visited := 0
	_ = g.Walk(func(dag.Vertex) error {
		mu.Lock()
		visited++
		mu.Unlock()
		return nil
	})
	logger.Debug("walked requirement graph", "vertices", visited)
}
