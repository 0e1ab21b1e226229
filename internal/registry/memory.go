package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/npmcore/npmcore/internal/npmerr"
	"github.com/npmcore/npmcore/internal/semver"
)

// Memory is a reference in-memory Registry, used by tests and as a
// fixture-driven stand-in for a real transport. It validates package
// names the way the real registry would (no "..", no "%", scoped form
// "@scope/name" with exactly one slash).
type Memory struct {
	mu       sync.RWMutex
	versions map[string][]semver.Version
	packages map[string]map[string]ResolvedPackage // name -> version string -> package
	tarballs map[string]map[string][]byte
}

// NewMemory builds an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		versions: make(map[string][]semver.Version),
		packages: make(map[string]map[string]ResolvedPackage),
		tarballs: make(map[string]map[string][]byte),
	}
}

// Publish registers a version of a package, as a test fixture builder.
func (m *Memory) Publish(pkg ResolvedPackage) error {
	if err := ValidateName(pkg.Name); err != nil {
		return err
	}
	v, err := semver.Parse(pkg.Version)
	if err != nil {
		return npmerr.New(npmerr.EParse, "invalid version %q for %s: %v", pkg.Version, pkg.Name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[pkg.Name] = append(m.versions[pkg.Name], v)
	if m.packages[pkg.Name] == nil {
		m.packages[pkg.Name] = make(map[string]ResolvedPackage)
	}
	m.packages[pkg.Name][v.String()] = pkg
	return nil
}

// PublishTarball attaches tarball bytes to an already-published version.
func (m *Memory) PublishTarball(name, version string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tarballs[name] == nil {
		m.tarballs[name] = make(map[string][]byte)
	}
	m.tarballs[name][version] = data
}

// ValidateName rejects names containing "..", "%", and scoped names that
// are not exactly "@scope/name".
func ValidateName(name string) error {
	if name == "" {
		return npmerr.New(npmerr.EValidation, "empty package name")
	}
	if strings.Contains(name, "..") || strings.Contains(name, "%") {
		return npmerr.New(npmerr.EValidation, "invalid package name %q", name)
	}
	if strings.HasPrefix(name, "@") {
		parts := strings.Split(name, "/")
		if len(parts) != 2 || parts[0] == "@" || parts[1] == "" {
			return npmerr.New(npmerr.EValidation, "invalid scoped package name %q", name)
		}
		return nil
	}
	if strings.Contains(name, "/") {
		return npmerr.New(npmerr.EValidation, "invalid package name %q", name)
	}
	return nil
}

func (m *Memory) ListVersions(_ context.Context, name string) ([]semver.Version, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	vs, ok := m.versions[name]
	if !ok {
		return nil, npmerr.New(npmerr.ENotFound, "package %q not found", name).With("package", name)
	}
	out := make([]semver.Version, len(vs))
	copy(out, vs)
	return out, nil
}

func (m *Memory) GetManifest(_ context.Context, name string, version semver.Version) (ResolvedPackage, error) {
	if err := ValidateName(name); err != nil {
		return ResolvedPackage{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	byVersion, ok := m.packages[name]
	if !ok {
		return ResolvedPackage{}, npmerr.New(npmerr.ENotFound, "package %q not found", name).With("package", name)
	}
	pkg, ok := byVersion[version.String()]
	if !ok {
		return ResolvedPackage{}, npmerr.New(npmerr.ENotFound, "%s@%s not found", name, version).
			With("package", name).With("version", version.String())
	}
	return pkg, nil
}

func (m *Memory) GetTarball(_ context.Context, name string, version semver.Version) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byVersion, ok := m.tarballs[name]
	if !ok {
		return nil, npmerr.New(npmerr.ENotFound, "no tarball for %s", name)
	}
	data, ok := byVersion[version.String()]
	if !ok {
		return nil, npmerr.New(npmerr.ENotFound, "no tarball for %s", fmt.Sprintf("%s@%s", name, version))
	}
	return data, nil
}

var _ Registry = (*Memory)(nil)
