package store

import (
	"encoding/json"
	"fmt"
)

// ValueKey is the payload field holding the plaintext secret value.
const ValueKey = "value"

// EncodePayload wraps value in a payload document.
func EncodePayload(value string) (string, error) {
	data, err := json.Marshal(map[string]string{ValueKey: value})
	if err != nil {
		return "", fmt.Errorf("failed to encode secret payload: %w", err)
	}
	return string(data), nil
}

// DecodePayload extracts the plaintext value from a payload document. A
// document without the ValueKey field decodes to the empty string; a
// non-string value is an error.
func DecodePayload(payload string) (string, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return "", fmt.Errorf("invalid secret payload: %w", err)
	}

	raw, ok := doc[ValueKey]
	if !ok || string(raw) == "null" {
		return "", nil
	}

	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("secret payload field %q is not a string: %w", ValueKey, err)
	}
	return value, nil
}
