package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Local carries the workspace-local `.diachron/local.yaml` bootstrap
// settings: options that must be known before the database (and, in the
// case of NoEmbeddings, the embedding engine) is opened.
type Local struct {
	NoEmbeddings bool `yaml:"no-embeddings"`
}

// LoadLocal reads local.yaml at path. A missing file is not an error; it
// returns the zero Local (embeddings enabled, no other bootstrap overrides).
func LoadLocal(path string) (Local, error) {
	var local Local
	data, err := os.ReadFile(path) // #nosec G304 - path is the daemon's own workspace config file
	if os.IsNotExist(err) {
		return local, nil
	}
	if err != nil {
		return local, err
	}
	if err := yaml.Unmarshal(data, &local); err != nil {
		return local, err
	}
	return local, nil
}
