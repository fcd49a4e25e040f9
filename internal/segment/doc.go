// Package segment splits request text into labeled topic segments.
//
// Two strategies exist. Embedding segmentation splits the text into
// sentences, embeds them and greedily merges neighbours whose embedding is
// close to the running centroid of the current segment; segments are then
// labeled by the nearest label exemplar centroid. LLM segmentation asks a
// model for character offsets and verifies each returned span against the
// source text. Auto mode picks between them by text length and embedding
// availability, and every mode falls back to the other and finally to a
// single whole-text segment.
//
// Whatever the strategy, the result is sorted by start offset,
// non-overlapping and inside the text. Offsets are byte offsets.
package segment
