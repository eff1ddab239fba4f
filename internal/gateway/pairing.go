package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls a JSON payload out of a completion. Models sometimes
// wrap structured output in a markdown fence or prepend prose, so we try
// the fenced block first and then fall back to the outermost bracket
// span.
func ExtractJSON(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty completion")
	}

	if idx := strings.Index(raw, "```"); idx >= 0 {
		rest := raw[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		rest = strings.TrimPrefix(rest, "JSON")
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end]), nil
		}
	}

	start := strings.IndexAny(raw, "[{")
	if start < 0 {
		return "", fmt.Errorf("no JSON payload in completion")
	}
	var end int
	if raw[start] == '[' {
		end = strings.LastIndex(raw, "]")
	} else {
		end = strings.LastIndex(raw, "}")
	}
	if end <= start {
		return "", fmt.Errorf("unterminated JSON payload in completion")
	}
	return raw[start : end+1], nil
}

// ParseBatch decodes a completion as a JSON array and pairs each element
// back to its request by the indicator_id it carries. The result set is
// valid only when it covers every requested ID exactly once; order in
// the array is irrelevant.
func ParseBatch(raw string, ids []string) (map[string]map[string]interface{}, error) {
	payload, err := ExtractJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	var elements []map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &elements); err != nil {
		// Tolerate a bare object for singleton requests.
		var single map[string]interface{}
		if err2 := json.Unmarshal([]byte(payload), &single); err2 != nil || len(ids) != 1 {
			return nil, fmt.Errorf("%w: not a JSON array: %v", ErrInvalidResponse, err)
		}
		elements = []map[string]interface{}{single}
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = false
	}

	out := make(map[string]map[string]interface{}, len(ids))
	for i, el := range elements {
		id, _ := el["indicator_id"].(string)
		if id == "" {
			return nil, fmt.Errorf("%w: element %d missing indicator_id", ErrInvalidResponse, i)
		}
		seen, known := want[id]
		if !known {
			return nil, fmt.Errorf("%w: unexpected indicator_id %q", ErrInvalidResponse, id)
		}
		if seen {
			return nil, fmt.Errorf("%w: duplicate indicator_id %q", ErrInvalidResponse, id)
		}
		want[id] = true
		out[id] = el
	}

	for id, seen := range want {
		if !seen {
			return nil, fmt.Errorf("%w: no element for indicator_id %q", ErrInvalidResponse, id)
		}
	}
	return out, nil
}
