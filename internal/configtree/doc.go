// Package configtree merges layered processing options and resolves the
// per-stage knobs the workflow engine consumes.
//
// Layers are generic key-value trees. A missing key or an explicit null at a
// layer inherits the value from the layer below; nested maps merge key by
// key. Resolution order, lowest first: [defaults], the recording's preset,
// the recording's template, then the recording's manual overrides.
package configtree
