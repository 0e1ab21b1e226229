// Package classify assigns an execution-tier tag to an installable
// package: whether it's pure cross-platform code, needs only polyfillable
// host built-ins, or requires the full native runtime.
package classify

import (
	"strings"
	"sync"

	"github.com/npmcore/npmcore/internal/manifest"
)

// Result is the classifier's verdict for one package.
type Result struct {
	Tier             Tier
	Reason           string
	CanRunInIsolate  bool
	RequiredBuiltins []string
	RequiresNative   bool
	Confidence       float64
}

// Classifier memoizes classification results by name@version so a
// resolution graph that references the same package many times only pays
// the analysis cost once.
type Classifier struct {
	mu    sync.Mutex
	cache map[string]Result
}

// New builds an empty Classifier.
func New() *Classifier {
	return &Classifier{cache: make(map[string]Result)}
}

func cacheKey(name, version string) string {
	if version == "" {
		return name
	}
	return name + "@" + version
}

// Classify returns the execution tier for name, consulting m (which may
// be the zero Manifest if unavailable — classification then falls back
// to name-only lookup tables).
func (c *Classifier) Classify(name string, m manifest.Manifest) Result {
	key := cacheKey(name, m.Version)

	c.mu.Lock()
	if cached, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	result := classify(name, m)

	c.mu.Lock()
	c.cache[key] = result
	c.mu.Unlock()

	return result
}

// classify implements the precedence chain: blocklist-known-Tier-3 >
// known-Tier-1 > known-Tier-2 > metadata analysis > fallback.
func classify(name string, m manifest.Manifest) Result {
	if knownTier3Packages[name] {
		return Result{
			Tier: Tier3, Reason: "known native package",
			CanRunInIsolate: false, RequiresNative: true, Confidence: 1,
		}
	}
	if knownTier1Packages[name] {
		return Result{
			Tier: Tier1, Reason: "known pure package",
			CanRunInIsolate: true, Confidence: 1,
		}
	}
	if knownTier2Packages[name] {
		return Result{
			Tier: Tier2, Reason: "known polyfillable package",
			CanRunInIsolate: true, Confidence: 1,
		}
	}

	if reason, ok := nativeBindingReason(m); ok {
		return Result{
			Tier: Tier3, Reason: reason,
			CanRunInIsolate: false, RequiresNative: true, Confidence: 0.9,
		}
	}

	builtins := requiredBuiltins(m)
	unpolyfillable := filterBuiltins(builtins, unpolyfillableBuiltins)
	if len(unpolyfillable) > 0 {
		return Result{
			Tier: Tier3, Reason: "requires unpolyfillable built-in(s): " + strings.Join(unpolyfillable, ", "),
			CanRunInIsolate: false, RequiredBuiltins: builtins, RequiresNative: false, Confidence: 0.7,
		}
	}

	if len(builtins) > 0 {
		return Result{
			Tier: Tier2, Reason: "requires polyfillable built-in(s): " + strings.Join(builtins, ", "),
			CanRunInIsolate: true, RequiredBuiltins: builtins, Confidence: 0.6,
		}
	}

	if m.Version == "" && m.Dependencies == nil && m.Scripts == nil {
		return Result{
			Tier: Tier3, Reason: "no manifest available for analysis",
			CanRunInIsolate: false, RequiresNative: false, Confidence: 0.2,
		}
	}

	return Result{
		Tier: Tier1, Reason: "no native indicators found", CanRunInIsolate: true, Confidence: 0.5,
	}
}

// nativeBindingReason reports whether m shows any of the native-binding
// signals: gypfile=true, a binding.gyp listed in files, a dependency on a
// native-tooling package, or a build script matching a known native
// pattern.
func nativeBindingReason(m manifest.Manifest) (string, bool) {
	if m.Gypfile {
		return "manifest declares gypfile=true", true
	}
	for _, f := range m.Files {
		if strings.HasSuffix(f, "binding.gyp") {
			return "ships a binding.gyp", true
		}
	}
	for dep := range m.Dependencies {
		if nativeToolingDeps[dep] {
			return "depends on native-tooling package " + dep, true
		}
	}
	for script, cmd := range m.Scripts {
		for _, pattern := range nativeBuildScriptPatterns {
			if strings.Contains(cmd, pattern) {
				return "script " + script + " invokes " + pattern, true
			}
		}
	}
	return "", false
}

// requiredBuiltins scans a manifest's dependency names for bare Node
// built-in module names a package declares a dependency on directly
// (some polyfill shims list the built-in they stand in for as a
// dependency name, which is enough signal at this level of analysis).
func requiredBuiltins(m manifest.Manifest) []string {
	var found []string
	for dep := range m.Dependencies {
		if polyfillableBuiltins[dep] || unpolyfillableBuiltins[dep] {
			found = append(found, dep)
		}
	}
	return found
}

func filterBuiltins(builtins []string, set map[string]bool) []string {
	var out []string
	for _, b := range builtins {
		if set[b] {
			out = append(out, b)
		}
	}
	return out
}
