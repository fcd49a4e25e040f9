// Package pipeline sequences the stages of a generation run: analysis,
// segmentation, per-segment generation and the quality gate. Each run
// streams its progress as events, ends with exactly one terminal event and
// can be cancelled by id while it executes.
package pipeline
