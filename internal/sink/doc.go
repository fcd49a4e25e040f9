// Package sink is the boundary to the downstream card store. Accepted cards
// leave the service through a CardSink; the pipeline itself never persists
// anything.
package sink
