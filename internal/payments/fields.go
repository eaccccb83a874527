package payments

import (
	"strconv"
	"strings"
)

// Provider notifications are loosely typed and the interesting values travel
// under different names (and sometimes one level of nesting) depending on the
// gateway. Extraction tries an ordered list of candidate paths and returns the
// first present value.

func lookupValue(payload map[string]any, paths []string) (any, bool) {
	for _, path := range paths {
		current := any(payload)
		found := true
		for _, key := range strings.Split(path, ".") {
			node, ok := current.(map[string]any)
			if !ok {
				found = false
				break
			}
			current, ok = node[key]
			if !ok {
				found = false
				break
			}
		}
		if found && current != nil {
			return current, true
		}
	}
	return nil, false
}

func lookupString(payload map[string]any, paths []string) (string, bool) {
	value, ok := lookupValue(payload, paths)
	if !ok {
		return "", false
	}
	switch typed := value.(type) {
	case string:
		trimmed := strings.TrimSpace(typed)
		return trimmed, trimmed != ""
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	default:
		return "", false
	}
}

func lookupAmount(payload map[string]any, paths []string) (float64, bool) {
	value, ok := lookupValue(payload, paths)
	if !ok {
		return 0, false
	}
	switch typed := value.(type) {
	case float64:
		return typed, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
