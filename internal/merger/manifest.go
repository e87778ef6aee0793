package merger

import (
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	pkgerrors "github.com/kata-ci/staticbuild/internal/errors"
)

// VersionManifest is the externally supplied key to version mapping consulted
// at merge time. It is read-only input.
type VersionManifest map[string]string

// LoadManifest reads a version manifest from a YAML file. An unreadable or
// empty manifest is fatal: merging without pinned versions is never allowed.
func LoadManifest(path string) (VersionManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CategoryManifest, pkgerrors.SeverityFatal, "read version manifest").
			WithContext("path", path)
	}
	var m VersionManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CategoryManifest, pkgerrors.SeverityFatal, "parse version manifest").
			WithContext("path", path)
	}
	if len(m) == 0 {
		return nil, pkgerrors.New(pkgerrors.CategoryManifest, pkgerrors.SeverityFatal, "version manifest declares no versions").
			WithContext("path", path)
	}
	return m, nil
}

// Serialize renders the manifest with sorted keys, so the embedded metadata
// file is identical across runs for identical manifests.
func (m VersionManifest) Serialize() []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(m[k])
		b.WriteString("\n")
	}
	return []byte(b.String())
}
