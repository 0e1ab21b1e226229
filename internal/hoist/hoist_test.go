package hoist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npmcore/npmcore/internal/manifest"
	"github.com/npmcore/npmcore/internal/registry"
	"github.com/npmcore/npmcore/internal/resolve"
)

func publish(t *testing.T, reg *registry.Memory, pkg registry.ResolvedPackage) {
	t.Helper()
	require.NoError(t, reg.Publish(pkg))
}

func TestHoistPlacesSingleVersionAtRoot(t *testing.T) {
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
	res, err := resolve.Resolve(context.Background(), root, reg, resolve.Options{})
	require.NoError(t, err)

	out, err := Hoist(res, Options{})
	require.NoError(t, err)
	assert.Contains(t, out.Resolved, "mid")
	assert.Contains(t, out.Resolved, "leaf")
	assert.Empty(t, out.Resolved["mid"].NestedDependencies)
}

func TestHoistNestsConflictingVersion(t *testing.T) {
	reg := registry.NewMemory()
	publish(t, reg, registry.ResolvedPackage{Name: "leaf", Version: "1.0.0"})
	publish(t, reg, registry.ResolvedPackage{Name: "leaf", Version: "2.0.0"})
	publish(t, reg, registry.ResolvedPackage{
		Name: "a", Version: "1.0.0",
		Dependencies: map[string]string{"leaf": "^2.0.0"},
	})
	publish(t, reg, registry.ResolvedPackage{
		Name: "b", Version: "1.0.0",
		Dependencies: map[string]string{"leaf": "^1.0.0"},
	})
	publish(t, reg, registry.ResolvedPackage{
		Name: "c", Version: "1.0.0",
		Dependencies: map[string]string{"leaf": "^2.0.0"},
	})
	root := manifest.Manifest{
		Name: "app", Version: "1.0.0",
		Dependencies: map[string]string{"a": "^1.0.0", "b": "^1.0.0", "c": "^1.0.0"},
	}
	res, err := resolve.Resolve(context.Background(), root, reg, resolve.Options{})
	require.NoError(t, err)

	out, err := Hoist(res, Options{})
	require.NoError(t, err)

	// leaf@2.0.0 has two requesters (a, c) vs one (b) for leaf@1.0.0: majority wins.
	require.Contains(t, out.Resolved, "leaf")
	assert.Equal(t, "2.0.0", out.Resolved["leaf"].Version)

	// b needed the minority version, so it gets its own nested copy.
	bNode := out.Resolved["b"]
	require.NotNil(t, bNode)
	nested, ok := bNode.NestedDependencies["leaf"]
	require.True(t, ok)
	assert.Equal(t, "1.0.0", nested.Version)

	// a and c are satisfied by the root placement; no nesting needed.
	assert.Empty(t, out.Resolved["a"].NestedDependencies)
	assert.Empty(t, out.Resolved["c"].NestedDependencies)
}

func TestHoistPreservesBundledMetadataWithoutSyntheticNesting(t *testing.T) {
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
	res, err := resolve.Resolve(context.Background(), root, reg, resolve.Options{})
	require.NoError(t, err)

	out, err := Hoist(res, Options{})
	require.NoError(t, err)
	node := out.Resolved["withbundle"]
	require.NotNil(t, node)
	assert.True(t, node.HasBundled)
	assert.Equal(t, []string{"inner"}, node.BundledDependencies)
}
