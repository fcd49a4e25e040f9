// Package generation turns one topic segment into card candidates.
//
// It builds the generation prompt (segment text, document context, request
// options and the delimited quality checklist), calls the generation model
// through the provider gateway and parses the answer tolerantly: the first
// well-formed JSON array anywhere in the response is used and elements that
// fail the card schema are dropped. When nothing parses, a single degraded
// fallback candidate is produced so the run still yields something to
// review.
package generation
