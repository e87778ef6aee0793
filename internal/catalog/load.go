package catalog

import (
	"os"

	"gopkg.in/yaml.v3"

	pkgerrors "github.com/kata-ci/staticbuild/internal/errors"
)

// fileFormat is the YAML shape of a catalog override file.
type fileFormat struct {
	Assets []Asset `yaml:"assets"`
}

// Load reads a catalog override from a YAML file. Every entry is validated
// the same way the built-in table is; a malformed catalog never reaches the
// executor.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pkgerrors.ConfigNotFound(path)
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.CategoryConfig, pkgerrors.SeverityFatal, "read catalog file")
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CategoryConfig, pkgerrors.SeverityFatal, "parse catalog file").
			WithContext("path", path)
	}
	if len(f.Assets) == 0 {
		return nil, pkgerrors.ConfigInvalid("catalog", "catalog file declares no assets").
			WithContext("path", path)
	}
	return New(f.Assets)
}
