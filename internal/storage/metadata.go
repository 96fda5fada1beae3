package storage

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// normalizeMetadataValue converts an event metadata value to a validated
// JSON string. Accepts string, []byte, or json.RawMessage.
func normalizeMetadataValue(value any) (string, error) {
	var jsonStr string

	switch v := value.(type) {
	case string:
		jsonStr = v
	case []byte:
		jsonStr = string(v)
	case json.RawMessage:
		jsonStr = string(v)
	default:
		return "", fmt.Errorf("metadata must be string, []byte, or json.RawMessage, got %T", value)
	}

	if !json.Valid([]byte(jsonStr)) {
		return "", fmt.Errorf("metadata is not valid JSON")
	}
	return jsonStr, nil
}

// validMetadataKeyRe validates metadata key names for use in JSON path
// expressions. Allows alphanumeric, underscore, and dot (nested paths).
var validMetadataKeyRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// validateMetadataKey checks that a metadata key is safe for use in JSON
// path expressions.
func validateMetadataKey(key string) error {
	if !validMetadataKeyRe.MatchString(key) {
		return fmt.Errorf("invalid metadata key %q: must match [a-zA-Z_][a-zA-Z0-9_.]*", key)
	}
	return nil
}
