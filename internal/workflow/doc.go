// Package workflow is the service layer of recflow.
//
// Engine turns outcome reports (download, stage, upload), start events,
// retries and administrative calls into state changes on persisted
// recordings. It resolves per-recording processing options through the
// layered config resolver, applies the pure state machine from the recording
// package inside store.Mutate, and logs one structured decision line per
// call, tagged with a correlation id.
//
// Errors carry services markers: domain rejections are ErrValidation,
// missing recordings ErrNotFound, unknown presets ErrConfiguration.
package workflow
