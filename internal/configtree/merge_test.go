package configtree_test

import (
	"reflect"
	"testing"

	"recflow/internal/configtree"
)

func TestMergeNullInherits(t *testing.T) {
	defaults := map[string]any{
		"processing": map[string]any{
			"allow_errors": false,
			"transcribe":   map[string]any{"enabled": true, "model": "large"},
		},
	}
	preset := map[string]any{
		"processing": map[string]any{
			"transcribe": map[string]any{"model": "medium"},
		},
	}
	override := map[string]any{
		"processing": map[string]any{
			"allow_errors": nil,
			"transcribe":   map[string]any{"enabled": false, "model": nil},
		},
	}

	merged := configtree.Merge(defaults, preset, override)
	want := map[string]any{
		"processing": map[string]any{
			"allow_errors": false,
			"transcribe":   map[string]any{"enabled": false, "model": "medium"},
		},
	}
	if !reflect.DeepEqual(merged, want) {
		t.Fatalf("Merge = %#v, want %#v", merged, want)
	}

	nested := defaults["processing"].(map[string]any)["transcribe"].(map[string]any)
	if nested["enabled"] != true || nested["model"] != "large" {
		t.Fatalf("Merge mutated its input: %#v", nested)
	}
}

func TestMergeScalarReplacesMap(t *testing.T) {
	merged := configtree.Merge(
		map[string]any{"a": map[string]any{"b": 1}},
		map[string]any{"a": "flat"},
	)
	if merged["a"] != "flat" {
		t.Fatalf("expected scalar to replace map, got %#v", merged["a"])
	}
	merged = configtree.Merge(merged, map[string]any{"a": map[string]any{"c": 2}})
	if !reflect.DeepEqual(merged["a"], map[string]any{"c": 2}) {
		t.Fatalf("expected map to replace scalar, got %#v", merged["a"])
	}
}

func TestBoolLookup(t *testing.T) {
	tree := map[string]any{
		"processing": map[string]any{
			"allow_errors": "TRUE",
			"trim":         map[string]any{"enabled": false},
			"odd":          map[string]any{"enabled": 3},
		},
	}
	if v, ok := configtree.Bool(tree, "processing", "allow_errors"); !ok || !v {
		t.Fatalf("string bool = %v %v", v, ok)
	}
	if v, ok := configtree.Bool(tree, "processing", "trim", "enabled"); !ok || v {
		t.Fatalf("bool = %v %v", v, ok)
	}
	if _, ok := configtree.Bool(tree, "processing", "odd", "enabled"); ok {
		t.Fatal("non-bool leaf should not resolve")
	}
	if _, ok := configtree.Bool(tree, "processing", "missing", "enabled"); ok {
		t.Fatal("missing path should not resolve")
	}
}
