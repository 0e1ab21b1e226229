package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npmcore/npmcore/internal/semver"
)

func TestMemoryPublishAndFetch(t *testing.T) {
	reg := NewMemory()
	require.NoError(t, reg.Publish(ResolvedPackage{Name: "lodash", Version: "4.17.21"}))

	vs, err := reg.ListVersions(context.Background(), "lodash")
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, "4.17.21", vs[0].String())

	pkg, err := reg.GetManifest(context.Background(), "lodash", semver.MustParse("4.17.21"))
	require.NoError(t, err)
	assert.Equal(t, "lodash", pkg.Name)
}

func TestMemoryNotFound(t *testing.T) {
	reg := NewMemory()
	_, err := reg.ListVersions(context.Background(), "missing")
	assert.Error(t, err)
}

func TestValidateNameRejectsTraversalAndScopes(t *testing.T) {
	assert.NoError(t, ValidateName("lodash"))
	assert.NoError(t, ValidateName("@scope/name"))
	assert.Error(t, ValidateName("../evil"))
	assert.Error(t, ValidateName("name%2e"))
	assert.Error(t, ValidateName("@scope/name/extra"))
	assert.Error(t, ValidateName("@/name"))
}
