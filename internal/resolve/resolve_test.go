package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npmcore/npmcore/internal/manifest"
	"github.com/npmcore/npmcore/internal/registry"
	"github.com/npmcore/npmcore/internal/tree"
)

func publish(t *testing.T, reg *registry.Memory, pkg registry.ResolvedPackage) {
	t.Helper()
	require.NoError(t, reg.Publish(pkg))
}

func TestResolveSimpleGraph(t *testing.T) {
	reg := registry.NewMemory()
	publish(t, reg, registry.ResolvedPackage{Name: "leaf", Version: "1.0.0"})
	publish(t, reg, registry.ResolvedPackage{
		Name: "mid", Version: "2.0.0",
		Dependencies: map[string]string{"leaf": "^1.0.0"},
	})
	root := manifest.Manifest{
		Name: "app", Version: "1.0.0",
		Dependencies: map[string]string{"mid": "^2.0.0"},
	}

	res, err := Resolve(context.Background(), root, reg, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.TotalPackages)
	assert.Contains(t, res.Nodes, "mid@2.0.0")
	assert.Contains(t, res.Nodes, "leaf@1.0.0")
	assert.Equal(t, "leaf", res.Nodes["mid@2.0.0"].NestedDependencies["leaf"].Name)
}

func TestResolveDeduplicatesSharedDependency(t *testing.T) {
	reg := registry.NewMemory()
	publish(t, reg, registry.ResolvedPackage{Name: "shared", Version: "1.0.0"})
	publish(t, reg, registry.ResolvedPackage{
		Name: "a", Version: "1.0.0",
		Dependencies: map[string]string{"shared": "^1.0.0"},
	})
	publish(t, reg, registry.ResolvedPackage{
		Name: "b", Version: "1.0.0",
		Dependencies: map[string]string{"shared": "^1.0.0"},
	})
	root := manifest.Manifest{
		Name: "app", Version: "1.0.0",
		Dependencies: map[string]string{"a": "^1.0.0", "b": "^1.0.0"},
	}

	res, err := Resolve(context.Background(), root, reg, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.TotalPackages)
	assert.GreaterOrEqual(t, res.Stats.DeduplicatedPackages, 1)
	assert.Same(t, res.Nodes["a@1.0.0"].NestedDependencies["shared"], res.Nodes["b@1.0.0"].NestedDependencies["shared"])
}

func TestResolveDetectsCircularDependency(t *testing.T) {
	reg := registry.NewMemory()
	publish(t, reg, registry.ResolvedPackage{
		Name: "a", Version: "1.0.0",
		Dependencies: map[string]string{"b": "^1.0.0"},
	})
	publish(t, reg, registry.ResolvedPackage{
		Name: "b", Version: "1.0.0",
		Dependencies: map[string]string{"a": "^1.0.0"},
	})
	root := manifest.Manifest{
		Name: "app", Version: "1.0.0",
		Dependencies: map[string]string{"a": "^1.0.0"},
	}

	res, err := Resolve(context.Background(), root, reg, Options{})
	require.NoError(t, err)
	var found bool
	for _, w := range res.Warnings {
		if w.Type == tree.WarningCircularDependency {
			found = true
		}
	}
	assert.True(t, found, "expected a circular-dependency warning, got %+v", res.Warnings)
}

func TestResolveMissingDependencyFails(t *testing.T) {
	reg := registry.NewMemory()
	root := manifest.Manifest{
		Name: "app", Version: "1.0.0",
		Dependencies: map[string]string{"missing": "^1.0.0"},
	}
	_, err := Resolve(context.Background(), root, reg, Options{})
	assert.Error(t, err)
}

func TestResolveOptionalDependencySkippedOnFailure(t *testing.T) {
	reg := registry.NewMemory()
	root := manifest.Manifest{
		Name: "app", Version: "1.0.0",
		OptionalDependencies: map[string]string{"missing": "^1.0.0"},
	}
	res, err := Resolve(context.Background(), root, reg, Options{})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, tree.WarningOptionalSkipped, res.Warnings[0].Type)
}

func TestResolvePeerMissingWarnsWithoutAutoInstall(t *testing.T) {
	reg := registry.NewMemory()
	publish(t, reg, registry.ResolvedPackage{
		Name: "plugin", Version: "1.0.0",
		PeerDependencies: map[string]string{"host": "^2.0.0"},
	})
	root := manifest.Manifest{
		Name: "app", Version: "1.0.0",
		Dependencies: map[string]string{"plugin": "^1.0.0"},
	}
	res, err := Resolve(context.Background(), root, reg, Options{})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, tree.WarningPeerMissing, res.Warnings[0].Type)
	assert.Equal(t, "host", res.Warnings[0].Peer)
}

func TestResolvePeerIncompatibleWarnsWithInstalledVersion(t *testing.T) {
	reg := registry.NewMemory()
	publish(t, reg, registry.ResolvedPackage{Name: "react", Version: "17.0.2"})
	publish(t, reg, registry.ResolvedPackage{
		Name: "react-dom", Version: "18.0.0",
		PeerDependencies: map[string]string{"react": "^18.0.0"},
	})
	root := manifest.Manifest{
		Name: "app", Version: "1.0.0",
		Dependencies: map[string]string{"react": "^17.0.0", "react-dom": "^18.0.0"},
	}
	res, err := Resolve(context.Background(), root, reg, Options{})
	require.NoError(t, err)

	require.Len(t, res.Warnings, 1)
	w := res.Warnings[0]
	assert.Equal(t, tree.WarningPeerIncompatible, w.Type)
	assert.Equal(t, "react", w.Peer)
	assert.Equal(t, "17.0.2", w.Installed)
}

func TestResolveAutoInstallPeers(t *testing.T) {
	reg := registry.NewMemory()
	publish(t, reg, registry.ResolvedPackage{Name: "host", Version: "2.0.0"})
	publish(t, reg, registry.ResolvedPackage{
		Name: "plugin", Version: "1.0.0",
		PeerDependencies: map[string]string{"host": "^2.0.0"},
	})
	root := manifest.Manifest{
		Name: "app", Version: "1.0.0",
		Dependencies: map[string]string{"plugin": "^1.0.0"},
	}
	res, err := Resolve(context.Background(), root, reg, Options{AutoInstallPeers: true})
	require.NoError(t, err)
	assert.Contains(t, res.Nodes, "host@2.0.0")
	for _, w := range res.Warnings {
		assert.NotEqual(t, tree.WarningPeerMissing, w.Type)
	}
}

func TestResolveBundledDependenciesSkipRegistryFetch(t *testing.T) {
	reg := registry.NewMemory()
	publish(t, reg, registry.ResolvedPackage{
		Name: "withbundle", Version: "1.0.0",
		Dependencies:        map[string]string{"inner": "^1.0.0"},
		BundledDependencies: []string{"inner"},
	})
	root := manifest.Manifest{
		Name: "app", Version: "1.0.0",
		Dependencies: map[string]string{"withbundle": "^1.0.0"},
	}
	res, err := Resolve(context.Background(), root, reg, Options{})
	require.NoError(t, err)
	node := res.Nodes["withbundle@1.0.0"]
	require.NotNil(t, node)
	assert.True(t, node.HasBundled)
	assert.NotContains(t, node.NestedDependencies, "inner")
}

func TestResolveDeprecatedWarning(t *testing.T) {
	reg := registry.NewMemory()
	publish(t, reg, registry.ResolvedPackage{Name: "old", Version: "1.0.0", Deprecated: "use new-pkg instead"})
	root := manifest.Manifest{
		Name: "app", Version: "1.0.0",
		Dependencies: map[string]string{"old": "^1.0.0"},
	}
	res, err := Resolve(context.Background(), root, reg, Options{})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, tree.WarningDeprecated, res.Warnings[0].Type)
}

func TestResolveIgnoresDevDependenciesInProductionMode(t *testing.T) {
	reg := registry.NewMemory()
	root := manifest.Manifest{
		Name: "app", Version: "1.0.0",
		DevDependencies: map[string]string{"missing": "^1.0.0"},
	}
	res, err := Resolve(context.Background(), root, reg, Options{Production: true})
	require.NoError(t, err)
	assert.Empty(t, res.Nodes)
}

func TestPlatformCompatible(t *testing.T) {
	assert.True(t, platformCompatible(nil, "linux"))
	assert.True(t, platformCompatible([]string{"linux", "darwin"}, "linux"))
	assert.False(t, platformCompatible([]string{"win32"}, "linux"))
	assert.False(t, platformCompatible([]string{"!win32"}, "win32"))
	assert.True(t, platformCompatible([]string{"!win32"}, "linux"))
}
