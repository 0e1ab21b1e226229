package classify

// Tier is the execution-tier tag the Classifier assigns a package.
type Tier int

const (
	// Tier1 is pure cross-platform code: no host-runtime built-ins needed.
	Tier1 Tier = 1
	// Tier2 needs built-ins from the polyfillable allow-set.
	Tier2 Tier = 2
	// Tier3 needs unpolyfillable built-ins or ships native bindings.
	Tier3 Tier = 3
)

func (t Tier) String() string {
	switch t {
	case Tier1:
		return "tier1"
	case Tier2:
		return "tier2"
	case Tier3:
		return "tier3"
	default:
		return "unknown"
	}
}

// polyfillableBuiltins is the fixed allow-set of host built-ins a Tier 2
// package may require without disqualifying it from isolate execution.
var polyfillableBuiltins = map[string]bool{
	"fs":     true,
	"path":   true,
	"crypto": true,
	"http":   true,
	"https":  true,
	"events": true,
	"stream": true,
	"util":   true,
	"buffer": true,
	"url":    true,
	"zlib":   true,
	"os":     true,
	"assert": true,
}

// unpolyfillableBuiltins force Tier 3 regardless of anything else a
// manifest declares.
var unpolyfillableBuiltins = map[string]bool{
	"child_process":  true,
	"vm":             true,
	"net":            true,
	"tls":            true,
	"worker_threads": true,
	"cluster":        true,
	"dgram":          true,
	"inspector":      true,
	"repl":           true,
}

// nativeToolingDeps are packages whose mere presence in a dependency list
// signals that the package compiles native code at install time.
var nativeToolingDeps = map[string]bool{
	"node-gyp":         true,
	"node-pre-gyp":     true,
	"node-gyp-build":   true,
	"prebuild-install": true,
	"cmake-js":         true,
	"node-addon-api":   true,
	"nan":              true,
}

// knownTier3Packages is the blocklist: names known to require full native
// runtime regardless of what their manifest otherwise claims.
var knownTier3Packages = map[string]bool{
	"fsevents":       true,
	"sharp":          true,
	"bcrypt":         true,
	"sqlite3":        true,
	"better-sqlite3": true,
	"canvas":         true,
	"grpc":           true,
	"node-sass":      true,
	"leveldown":      true,
	"re2":            true,
	"libxmljs":       true,
	"argon2":         true,
}

// knownTier1Packages are names known to be pure cross-platform code
// regardless of shallow metadata heuristics (e.g. they happen to list a
// devDependency on a native-tooling package used only for their own
// build, not their runtime).
var knownTier1Packages = map[string]bool{
	"lodash":         true,
	"chalk":          true,
	"semver":         true,
	"uuid":           true,
	"is-core-module": true,
	"minimatch":      true,
	"picomatch":      true,
}

// knownTier2Packages are names known to stick to the polyfillable
// built-in allow-set.
var knownTier2Packages = map[string]bool{
	"glob":      true,
	"fs-extra":  true,
	"mkdirp":    true,
	"rimraf":    true,
	"tar":       true,
	"node-fetch": true,
	"axios":     true,
}

// nativeBuildScriptPatterns are script-field substrings that indicate a
// native compile step runs at install time.
var nativeBuildScriptPatterns = []string{
	"node-gyp",
	"node-pre-gyp",
	"prebuild-install",
	"cmake-js",
	"make",
	"gyp rebuild",
}
