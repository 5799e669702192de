package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Key derives a deterministic, content-addressed cache key from any
// JSON-serializable input, so callers never manage key strings directly.
//
// Two inputs that serialize to the same canonical JSON always produce the
// same key, regardless of map iteration order or how the input was built.
func Key(input any) (string, error) {
	canonical, err := canonicalJSON(input)
	if err != nil {
		return "", fmt.Errorf("derive cache key: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON serializes input with map keys in a stable order. Marshal
// once, decode into generic values, and marshal again: encoding/json sorts
// map keys on the second pass, which naive single-pass serialization does
// not guarantee for the original input's map types.
func canonicalJSON(input any) ([]byte, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
