// Package manifest validates and normalizes npm package manifests.
package manifest

import (
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"

	"github.com/npmcore/npmcore/internal/npmerr"
	"github.com/npmcore/npmcore/internal/semver"
)

// Manifest is the validated, normalized shape of a package manifest.
type Manifest struct {
	Name    string
	Version string

	Dependencies         map[string]string
	DevDependencies      map[string]string
	PeerDependencies     map[string]string
	OptionalDependencies map[string]string
	BundledDependencies  []string

	OS      []string
	CPU     []string
	Engines map[string]string
	Type    string
	Bin     map[string]string
	Scripts map[string]string
	License string
	Files   []string
	Gypfile bool
}

var validTypes = map[string]bool{"": true, "commonjs": true, "module": true}

// nameRe matches a valid (optionally scoped) npm package name.
var nameRe = regexp.MustCompile(`^(@[a-z0-9][a-z0-9._-]*/)?[a-z0-9][a-z0-9._-]*$`)

// Warning is a non-fatal manifest issue discovered during validation.
type Warning struct {
	Field   string
	Message string
}

// Validate normalizes raw (an untyped decoded-JSON-shaped map, as produced
// by a registry payload) into a Manifest, rejecting a missing or invalid
// name/version or an unknown "type". An invalid engine range does not fail
// validation; it is returned as a discoverable warning instead, per the
// "dynamically shaped entries" guidance: we decode via mapstructure so a
// field the source serialized inconsistently (e.g. engines as an array in
// old packages) still lands in a typed field.
func Validate(raw map[string]interface{}) (Manifest, []Warning, error) {
	var m Manifest
	decoderCfg := &mapstructure.DecoderConfig{
		Result:           &m,
		WeaklyTypedInput: true,
		TagName:          "manifest",
	}
	dec, err := mapstructure.NewDecoder(decoderCfg)
	if err != nil {
		return Manifest{}, nil, npmerr.Wrap(err, npmerr.EValidation)
	}
	if err := dec.Decode(normalizeAliases(coerceBinField(raw))); err != nil {
		return Manifest{}, nil, npmerr.New(npmerr.EValidation, "malformed manifest: %v", err)
	}

	var warnings []Warning

	if m.Name == "" {
		return Manifest{}, nil, npmerr.New(npmerr.EValidation, "manifest missing required field \"name\"")
	}
	if !nameRe.MatchString(m.Name) {
		return Manifest{}, nil, npmerr.New(npmerr.EValidation, "manifest has invalid package name %q", m.Name)
	}
	if m.Version == "" {
		return Manifest{}, nil, npmerr.New(npmerr.EValidation, "manifest missing required field \"version\"")
	}
	if _, err := semver.Parse(m.Version); err != nil {
		return Manifest{}, nil, npmerr.New(npmerr.EValidation, "manifest has invalid version %q: %v", m.Version, err)
	}

	if !validTypes[m.Type] {
		return Manifest{}, nil, npmerr.New(npmerr.EValidation, "manifest has unknown \"type\" %q", m.Type)
	}

	for name, rng := range m.Engines {
		if _, err := semver.ParseRange(rng); err != nil {
			warnings = append(warnings, Warning{
				Field:   "engines." + name,
				Message: "invalid engine range " + rng,
			})
		}
	}

	normalizeBin(&m)

	return m, warnings, nil
}

// normalizeAliases copies package.json's on-the-wire field spellings onto
// the struct tag mapstructure expects, since the registry payload's JSON
// keys are camelCase and the struct fields above are exported Go names
// with a few renames (bundledDependencies, peerDependencies, ...).
func normalizeAliases(raw map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	alias := map[string]string{
		"dependencies":         "Dependencies",
		"devDependencies":      "DevDependencies",
		"peerDependencies":     "PeerDependencies",
		"optionalDependencies": "OptionalDependencies",
		"bundledDependencies":  "BundledDependencies",
		"bundleDependencies":   "BundledDependencies",
		"os":                   "OS",
		"cpu":                  "CPU",
		"engines":              "Engines",
		"type":                 "Type",
		"bin":                  "Bin",
		"scripts":              "Scripts",
		"license":              "License",
		"name":                 "Name",
		"version":              "Version",
		"files":                "Files",
		"gypfile":              "Gypfile",
	}
	result := make(map[string]interface{}, len(out))
	for k, v := range out {
		if mapped, ok := alias[k]; ok {
			result[mapped] = v
			continue
		}
		result[k] = v
	}
	return result
}

// normalizeBin runs after decoding, when Bin is already a map (the bare
// string form is rewritten into a map earlier by coerceBinField). For a
// single-entry map it passes the value through cast.ToString; other maps
// are left as decoded.
func normalizeBin(m *Manifest) {
	if m.Bin == nil {
		return
	}
	if len(m.Bin) == 1 {
		for k, v := range m.Bin {
			m.Bin[k] = cast.ToString(v)
		}
	}
}

// BinFromString handles the legacy "bin": "./cli.js" shape (a bare string
// rather than a map), returning the normalized {name: path} form.
func BinFromString(packageName, binPath string) map[string]string {
	name := packageName
	if i := strings.LastIndex(packageName, "/"); i >= 0 {
		name = packageName[i+1:]
	}
	return map[string]string{name: binPath}
}

// coerceBinField rewrites raw["bin"] from the legacy bare-string shape into
// the {name: path} map shape before mapstructure ever sees it; mapstructure
// cannot coerce a string into a map[string]string on its own.
func coerceBinField(raw map[string]interface{}) map[string]interface{} {
	binPath, ok := raw["bin"].(string)
	if !ok {
		return raw
	}
	name, _ := raw["name"].(string)
	out := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	out["bin"] = BinFromString(name, binPath)
	return out
}
