package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/npmcore/npmcore/internal/manifest"
)

func TestClassifyKnownTier3Blocklist(t *testing.T) {
	c := New()
	result := c.Classify("bcrypt", manifest.Manifest{Version: "5.0.0"})
	assert.Equal(t, Tier3, result.Tier)
	assert.True(t, result.RequiresNative)
	assert.False(t, result.CanRunInIsolate)
}

func TestClassifyKnownTier1Overrides(t *testing.T) {
	c := New()
	result := c.Classify("lodash", manifest.Manifest{Version: "4.17.21"})
	assert.Equal(t, Tier1, result.Tier)
	assert.True(t, result.CanRunInIsolate)
}

func TestClassifyGypfileForcesTier3(t *testing.T) {
	c := New()
	result := c.Classify("some-addon", manifest.Manifest{Version: "1.0.0", Gypfile: true})
	assert.Equal(t, Tier3, result.Tier)
	assert.True(t, result.RequiresNative)
}

func TestClassifyBindingGypInFilesForcesTier3(t *testing.T) {
	c := New()
	result := c.Classify("some-addon", manifest.Manifest{Version: "1.0.0", Files: []string{"index.js", "binding.gyp"}})
	assert.Equal(t, Tier3, result.Tier)
}

func TestClassifyNativeToolingDependencyForcesTier3(t *testing.T) {
	c := New()
	result := c.Classify("some-addon", manifest.Manifest{
		Version:      "1.0.0",
		Dependencies: map[string]string{"node-gyp-build": "^4.0.0"},
	})
	assert.Equal(t, Tier3, result.Tier)
}

func TestClassifyNativeBuildScriptForcesTier3(t *testing.T) {
	c := New()
	result := c.Classify("some-addon", manifest.Manifest{
		Version: "1.0.0",
		Scripts: map[string]string{"install": "node-gyp rebuild"},
	})
	assert.Equal(t, Tier3, result.Tier)
}

func TestClassifyUnpolyfillableBuiltinForcesTier3(t *testing.T) {
	c := New()
	result := c.Classify("needs-process-spawn", manifest.Manifest{
		Version:      "1.0.0",
		Dependencies: map[string]string{"child_process": "*"},
	})
	assert.Equal(t, Tier3, result.Tier)
	assert.Contains(t, result.Reason, "child_process")
}

func TestClassifyPolyfillableBuiltinIsTier2(t *testing.T) {
	c := New()
	result := c.Classify("reads-files", manifest.Manifest{
		Version:      "1.0.0",
		Dependencies: map[string]string{"fs": "*"},
	})
	assert.Equal(t, Tier2, result.Tier)
	assert.True(t, result.CanRunInIsolate)
}

func TestClassifyFallsBackToTier1WithoutIndicators(t *testing.T) {
	c := New()
	result := c.Classify("plain-util", manifest.Manifest{
		Version:      "1.0.0",
		Dependencies: map[string]string{"left-pad": "*"},
	})
	assert.Equal(t, Tier1, result.Tier)
}

func TestClassifyEmptyManifestFallsBackLowConfidence(t *testing.T) {
	c := New()
	result := c.Classify("unknown-package", manifest.Manifest{})
	assert.Equal(t, Tier3, result.Tier)
	assert.Less(t, result.Confidence, 0.5)
}

func TestClassifyMemoizesByNameAtVersion(t *testing.T) {
	c := New()
	first := c.Classify("bcrypt", manifest.Manifest{Version: "5.0.0"})
	second := c.Classify("bcrypt", manifest.Manifest{Version: "5.0.0"})
	assert.Equal(t, first, second)

	c.mu.Lock()
	_, cached := c.cache["bcrypt@5.0.0"]
	c.mu.Unlock()
	assert.True(t, cached)
}
