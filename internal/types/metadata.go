package types

import (
	"encoding/json"
	"sort"
)

// MarshalJSON merges the well-known metadata fields with any extra keys into
// a single flat JSON object, with extra keys emitted in sorted order so the
// encoding is deterministic — this is load-bearing for hash-chain canonical
// serialization (spec.md §4.2), where the same metadata must always hash to
// the same bytes.
func (m EventMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+2)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.GitBranch != "" {
		out["git_branch"] = m.GitBranch
	}
	if m.CommandCategory != "" {
		out["command_category"] = m.CommandCategory
	}
	if len(out) == 0 {
		return []byte("{}"), nil
	}

	keys := make([]string, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(out[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// UnmarshalJSON lifts git_branch and command_category into their typed
// fields and keeps everything else in Extra.
func (m *EventMetadata) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["git_branch"].(string); ok {
		m.GitBranch = v
		delete(raw, "git_branch")
	}
	if v, ok := raw["command_category"].(string); ok {
		m.CommandCategory = CommandCategory(v)
		delete(raw, "command_category")
	}
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// IsEmpty reports whether the metadata carries no information at all.
func (m EventMetadata) IsEmpty() bool {
	return m.GitBranch == "" && m.CommandCategory == "" && len(m.Extra) == 0
}
