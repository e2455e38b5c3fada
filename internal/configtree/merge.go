package configtree

import (
	"strings"
)

// Merge folds layers from lowest to highest priority into a new tree. Inputs
// are never mutated.
func Merge(layers ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, layer := range layers {
		mergeInto(out, layer)
	}
	return out
}

func mergeInto(dst, src map[string]any) {
	for key, value := range src {
		if value == nil {
			continue
		}
		incoming, isMap := asTree(value)
		if !isMap {
			dst[key] = value
			continue
		}
		existing, ok := asTree(dst[key])
		if !ok {
			existing = map[string]any{}
		} else {
			existing = copyTree(existing)
		}
		mergeInto(existing, incoming)
		dst[key] = existing
	}
}

func copyTree(tree map[string]any) map[string]any {
	out := make(map[string]any, len(tree))
	for k, v := range tree {
		if nested, ok := asTree(v); ok {
			out[k] = copyTree(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// asTree accepts the map shapes produced by TOML and JSON decoders.
func asTree(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case map[string]map[string]any:
		out := make(map[string]any, len(v))
		for k, nested := range v {
			out[k] = nested
		}
		return out, true
	default:
		return nil, false
	}
}

// Lookup walks path through nested maps.
func Lookup(tree map[string]any, path ...string) (any, bool) {
	var current any = tree
	for _, part := range path {
		node, ok := asTree(current)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok || current == nil {
			return nil, false
		}
	}
	return current, true
}

// Bool looks up a boolean leaf. Strings "true" and "false" are accepted.
func Bool(tree map[string]any, path ...string) (bool, bool) {
	value, ok := Lookup(tree, path...)
	if !ok {
		return false, false
	}
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
	}
	return false, false
}
