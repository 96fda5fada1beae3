package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const stateVersion = 1

// checkpoint is the indexer's resume point for a single archive file.
type checkpoint struct {
	LastLine int       `json:"last_line"`
	MTime    time.Time `json:"mtime"`
}

// state is the on-disk indexer state (spec.md §4.6): for each archive path,
// the highest processed line number and the last observed mtime.
type state struct {
	Version  int                   `json:"version"`
	Archives map[string]checkpoint `json:"archives"`

	path string
}

// loadState reads the checkpoint file at path, or returns an empty state if
// it doesn't exist yet — the first indexing pass starts from scratch.
func loadState(path string) (*state, error) {
	st := &state{Version: stateVersion, Archives: map[string]checkpoint{}, path: path}

	// #nosec G304 - path is the daemon's own fixed state file location
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, err
	}
	st.path = path
	if st.Archives == nil {
		st.Archives = map[string]checkpoint{}
	}
	return st, nil
}

func (s *state) get(archivePath string) checkpoint {
	return s.Archives[archivePath]
}

func (s *state) update(archivePath string, lastLine int, mtime time.Time) {
	s.Archives[archivePath] = checkpoint{LastLine: lastLine, MTime: mtime}
}

// save persists the state file, following the plain MarshalIndent +
// WriteFile pattern the rest of the daemon uses for small JSON state blobs.
func (s *state) save() error {
	if s.Version == 0 {
		s.Version = stateVersion
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}
