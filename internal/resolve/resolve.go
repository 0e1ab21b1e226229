// Package resolve implements the concurrent dependency-graph resolution
// algorithm: turning a root manifest's dependency ranges into a full
// DependencyNode graph, deduplicating repeated name@version fetches,
// detecting cycles, and recording recoverable conditions as warnings
// rather than failing the whole resolve.
package resolve

import (
	"context"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/npmcore/npmcore/internal/manifest"
	"github.com/npmcore/npmcore/internal/npmerr"
	"github.com/npmcore/npmcore/internal/registry"
	"github.com/npmcore/npmcore/internal/semver"
	"github.com/npmcore/npmcore/internal/tree"
)

// rootRequester is the synthetic requester id used when recording a
// requirement that comes directly from the manifest being resolved.
const rootRequester = "ROOT"

// defaultConcurrency bounds fan-out below the root: how many in-flight
// nested resolvePackage calls may run at once.
const defaultConcurrency = 16

// Requirement is one edge in the requirements graph: requester wanted
// name at Range, and the resolver settled on Version for it.
type Requirement struct {
	Range     string
	Version   string
	Requester string
	Dev       bool
	Optional  bool
}

// Options configures a resolve. The zero value is usable; Concurrency
// defaults to 16 and Platform/Arch default to the running process's.
type Options struct {
	Production       bool
	AutoInstallPeers bool
	Platform         string
	Arch             string
	Concurrency      int
	Logger           hclog.Logger
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.Platform == "" {
		o.Platform = defaultPlatform()
	}
	if o.Arch == "" {
		o.Arch = defaultArch()
	}
	if o.Logger == nil {
		o.Logger = hclog.NewNullLogger()
	}
	return o
}

// Result is everything the Hoister needs: every distinct resolved node
// keyed by "name@version", the full requirement graph, and the warnings
// and stats accumulated along the way.
type Result struct {
	Nodes         map[string]*tree.DependencyNode
	Requirements  map[string]map[string]Requirement
	RootName      string
	RootVersion   string
	RootDeps      map[string]string
	Warnings      []tree.Warning
	Stats         tree.Stats
	CorrelationID string
}

type resolver struct {
	reg registry.Registry
	opt Options
	log hclog.Logger

	mu             sync.Mutex
	versionCache   map[string]semver.Version
	nodes          map[string]*tree.DependencyNode
	requirements   map[string]map[string]Requirement
	resolvingStack mapset.Set
	warnings       []tree.Warning
	fetchCount     int
	dedupCount     int

	versionsGroup singleflight.Group
	versionsMu    sync.Mutex
	versionsCache map[string][]semver.Version

	infoGroup singleflight.Group
	infoMu    sync.Mutex
	infoCache map[string]registry.ResolvedPackage

	sem *semaphore.Weighted

	errs *multierror.Error
	errMu sync.Mutex
}

// Resolve walks root's dependency graph against reg, returning the
// unhoisted node set and the requirement graph the Hoister consumes.
func Resolve(ctx context.Context, root manifest.Manifest, reg registry.Registry, opts Options) (*Result, error) {
	start := time.Now()
	opts = opts.withDefaults()
	r := &resolver{
		reg:            reg,
		opt:            opts,
		log:            opts.Logger.Named("resolve"),
		versionCache:   make(map[string]semver.Version),
		nodes:          make(map[string]*tree.DependencyNode),
		requirements:   make(map[string]map[string]Requirement),
		resolvingStack: mapset.NewSet(),
		versionsCache:  make(map[string][]semver.Version),
		infoCache:      make(map[string]registry.ResolvedPackage),
		sem:            semaphore.NewWeighted(int64(opts.Concurrency)),
		errs:           &multierror.Error{},
	}

	rootDeps := map[string]string{}
	for name, rng := range root.Dependencies {
		rootDeps[name] = rng
	}
	if !opts.Production {
		for name, rng := range root.DevDependencies {
			rootDeps[name] = rng
		}
	}

	bundled := mapset.NewSetFromSlice(toInterfaceSlice(root.BundledDependencies))

	g, ctx := errgroup.WithContext(ctx)
	for name, rng := range rootDeps {
		name, rng := name, rng
		if bundled.Contains(name) {
			continue
		}
		g.Go(func() error {
			dev := root.DevDependencies[name] != "" && root.Dependencies[name] == ""
			if _, err := r.resolveAndAttach(ctx, name, rng, rootRequester, dev, false); err != nil {
				r.addErr(err)
			}
			return nil
		})
	}
	for name, rng := range root.OptionalDependencies {
		name, rng := name, rng
		if bundled.Contains(name) {
			continue
		}
		g.Go(func() error {
			if _, err := r.resolveAndAttach(ctx, name, rng, rootRequester, false, true); err != nil {
				r.addErr(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := r.errs.ErrorOrNil(); err != nil {
		return nil, npmerr.Wrap(err, npmerr.EResolution)
	}

	r.mu.Lock()
	stats := tree.Stats{
		TotalPackages:        len(r.nodes),
		DeduplicatedPackages: r.dedupCount,
		RegistryFetches:      r.fetchCount,
		ResolutionTime:       time.Since(start),
	}
	warnings := append([]tree.Warning(nil), r.warnings...)
	nodes := r.nodes
	reqs := r.requirements
	r.mu.Unlock()

	return &Result{
		Nodes:         nodes,
		Requirements:  reqs,
		RootName:      root.Name,
		RootVersion:   root.Version,
		RootDeps:      rootDeps,
		Warnings:      warnings,
		Stats:         stats,
		CorrelationID: uuid.New().String(),
	}, nil
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func (r *resolver) addErr(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	r.errs = multierror.Append(r.errs, err)
}

func (r *resolver) addWarning(w tree.Warning) {
	r.mu.Lock()
	r.warnings = append(r.warnings, w)
	r.mu.Unlock()
}

func (r *resolver) recordRequirement(name string, req Requirement) {
	r.mu.Lock()
	if r.requirements[name] == nil {
		r.requirements[name] = make(map[string]Requirement)
	}
	r.requirements[name][req.Requester] = req
	r.mu.Unlock()
}

// resolveAndAttach resolves name@rng for requester, records the
// requirement edge, and returns the resolved node (or nil if it was
// skipped as an unsatisfiable optional/platform-mismatched dependency).
func (r *resolver) resolveAndAttach(ctx context.Context, name, rng, requester string, dev, optional bool) (*tree.DependencyNode, error) {
	version, err := r.resolveVersion(ctx, name, rng)
	if err != nil {
		req := Requirement{Range: rng, Requester: requester, Dev: dev, Optional: optional}
		r.recordRequirement(name, req)
		if optional {
			r.addWarning(tree.Warning{
				Type:     tree.WarningOptionalSkipped,
				Package:  name,
				Required: rng,
				Message:  err.Error(),
			})
			return nil, nil
		}
		return nil, err
	}

	r.recordRequirement(name, Requirement{Range: rng, Version: version.String(), Requester: requester, Dev: dev, Optional: optional})

	return r.resolveNode(ctx, name, version, optional)
}

// resolveNode resolves (or returns the already-resolved/already-in-flight
// node for) name@version, fanning out to its own dependencies the first
// time any caller reaches it.
func (r *resolver) resolveNode(ctx context.Context, name string, version semver.Version, optional bool) (*tree.DependencyNode, error) {
	id := name + "@" + version.String()

	r.mu.Lock()
	if existing, ok := r.nodes[id]; ok {
		if r.resolvingStack.Contains(id) {
			r.warnings = append(r.warnings, tree.Warning{
				Type:    tree.WarningCircularDependency,
				Package: id,
				Cycle:   []string{id},
				Message: fmt.Sprintf("%s depends on itself transitively", id),
			})
			existing.CircularTo = append(existing.CircularTo, id)
		} else {
			r.dedupCount++
		}
		r.mu.Unlock()
		return existing, nil
	}
	node := &tree.DependencyNode{
		Name:               name,
		Version:            version.String(),
		NestedDependencies: make(map[string]*tree.DependencyNode),
	}
	r.nodes[id] = node
	r.resolvingStack.Add(id)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.resolvingStack.Remove(id)
		r.mu.Unlock()
	}()

	pkg, err := r.getManifest(ctx, name, version)
	if err != nil {
		if optional {
			r.addWarning(tree.Warning{Type: tree.WarningOptionalSkipped, Package: id, Message: err.Error()})
			return nil, nil
		}
		return nil, err
	}

	if pkg.Deprecated != "" {
		r.addWarning(tree.Warning{Type: tree.WarningDeprecated, Package: id, Message: pkg.Deprecated})
	}

	node.Dependencies = pkg.Dependencies
	node.PeerDependencies = pkg.PeerDependencies
	node.BundledDependencies = pkg.BundledDependencies
	node.HasBundled = len(pkg.BundledDependencies) > 0
	node.Integrity = pkg.Dist.Integrity
	node.Resolved = pkg.Dist.Tarball
	node.Optional = optional

	if !platformCompatible(pkg.OS, r.opt.Platform) || !platformCompatible(pkg.CPU, r.opt.Arch) {
		if optional {
			r.addWarning(tree.Warning{
				Type:    tree.WarningOptionalSkipped,
				Package: id,
				Message: "platform mismatch",
			})
			return nil, nil
		}
	}

	bundled := mapset.NewSetFromSlice(toInterfaceSlice(pkg.BundledDependencies))

	if err := r.resolveChildren(ctx, node, id, pkg, bundled); err != nil {
		return nil, err
	}

	if err := r.resolvePeers(ctx, node, id, pkg); err != nil {
		return nil, err
	}

	return node, nil
}

func (r *resolver) resolveChildren(ctx context.Context, node *tree.DependencyNode, parentID string, pkg registry.ResolvedPackage, bundled mapset.Set) error {
	g, ctx := errgroup.WithContext(ctx)

	launch := func(name, rng string, optional bool) {
		g.Go(func() error {
			if err := r.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			defer r.sem.Release(1)
			child, err := r.resolveAndAttach(ctx, name, rng, parentID, false, optional)
			if err != nil {
				r.addErr(err)
				return nil
			}
			if child != nil {
				r.mu.Lock()
				node.NestedDependencies[name] = child
				r.mu.Unlock()
			}
			return nil
		})
	}

	for name, rng := range pkg.Dependencies {
		if bundled.Contains(name) {
			continue
		}
		launch(name, rng, false)
	}
	for name, rng := range pkg.OptionalDependencies {
		if bundled.Contains(name) {
			continue
		}
		launch(name, rng, true)
	}
	_ = g.Wait()
	return nil
}

// resolvePeers checks each declared peer dependency against the rest of
// the resolved graph, either auto-installing it (AutoInstallPeers),
// recording peer-missing, or recording peer-incompatible.
func (r *resolver) resolvePeers(ctx context.Context, node *tree.DependencyNode, nodeID string, pkg registry.ResolvedPackage) error {
	for peerName, peerRange := range pkg.PeerDependencies {
		rng, err := semver.ParseRange(peerRange)
		if err != nil {
			continue
		}

		r.mu.Lock()
		var found *tree.DependencyNode
		var installed *tree.DependencyNode
		for _, n := range r.nodes {
			if n.Name != peerName {
				continue
			}
			if v, perr := semver.Parse(n.Version); perr == nil && rng.Satisfies(v) {
				found = n
				break
			}
			installed = n
		}
		r.mu.Unlock()

		if found != nil {
			continue
		}

		if !r.opt.AutoInstallPeers {
			if installed != nil {
				r.addWarning(tree.Warning{
					Type:      tree.WarningPeerIncompatible,
					Package:   nodeID,
					Peer:      peerName,
					Required:  peerRange,
					Installed: installed.Version,
				})
				continue
			}
			r.addWarning(tree.Warning{
				Type:     tree.WarningPeerMissing,
				Package:  nodeID,
				Peer:     peerName,
				Required: peerRange,
			})
			continue
		}

		child, err := r.resolveAndAttach(ctx, peerName, peerRange, nodeID, false, false)
		if err != nil {
			r.addWarning(tree.Warning{
				Type:     tree.WarningPeerIncompatible,
				Package:  nodeID,
				Peer:     peerName,
				Required: peerRange,
				Message:  err.Error(),
			})
			continue
		}
		if child != nil {
			r.mu.Lock()
			node.NestedDependencies[peerName] = child
			r.mu.Unlock()
		}
	}
	return nil
}

// resolveVersion picks the highest version of name satisfying rng,
// caching the decision so repeated requests for the same (name, rng)
// pair never re-scan the version list.
func (r *resolver) resolveVersion(ctx context.Context, name, rng string) (semver.Version, error) {
	key := name + "@" + rng
	r.mu.Lock()
	if v, ok := r.versionCache[key]; ok {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	if v, ok := semver.IsExactVersion(rng); ok {
		r.mu.Lock()
		r.versionCache[key] = v
		r.mu.Unlock()
		return v, nil
	}

	parsed, err := semver.ParseRange(rng)
	if err != nil {
		return semver.Version{}, npmerr.Wrap(err, npmerr.EParse).With("package", name).With("range", rng)
	}

	versions, err := r.listVersions(ctx, name)
	if err != nil {
		return semver.Version{}, err
	}

	best, ok := semver.MaxSatisfying(versions, parsed)
	if !ok {
		return semver.Version{}, npmerr.New(npmerr.EResolution, "no version of %s satisfies %q", name, rng).
			With("package", name).With("range", rng)
	}

	r.mu.Lock()
	r.versionCache[key] = best
	r.mu.Unlock()
	return best, nil
}

func (r *resolver) listVersions(ctx context.Context, name string) ([]semver.Version, error) {
	r.versionsMu.Lock()
	if vs, ok := r.versionsCache[name]; ok {
		r.versionsMu.Unlock()
		return vs, nil
	}
	r.versionsMu.Unlock()

	v, err, _ := r.versionsGroup.Do(name, func() (interface{}, error) {
		vs, err := r.reg.ListVersions(ctx, name)
		if err != nil {
			return nil, npmerr.Wrap(err, npmerr.EFetch).With("package", name)
		}
		r.mu.Lock()
		r.fetchCount++
		r.mu.Unlock()
		r.versionsMu.Lock()
		r.versionsCache[name] = vs
		r.versionsMu.Unlock()
		return vs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]semver.Version), nil
}

func (r *resolver) getManifest(ctx context.Context, name string, version semver.Version) (registry.ResolvedPackage, error) {
	id := name + "@" + version.String()

	r.infoMu.Lock()
	if pkg, ok := r.infoCache[id]; ok {
		r.infoMu.Unlock()
		return pkg, nil
	}
	r.infoMu.Unlock()

	v, err, _ := r.infoGroup.Do(id, func() (interface{}, error) {
		pkg, err := r.reg.GetManifest(ctx, name, version)
		if err != nil {
			return registry.ResolvedPackage{}, npmerr.Wrap(err, npmerr.EFetch).With("package", id)
		}
		r.mu.Lock()
		r.fetchCount++
		r.mu.Unlock()
		r.infoMu.Lock()
		r.infoCache[id] = pkg
		r.infoMu.Unlock()
		return pkg, nil
	})
	if err != nil {
		return registry.ResolvedPackage{}, err
	}
	return v.(registry.ResolvedPackage), nil
}
