// Package events defines the progress events a pipeline run streams to its
// caller and the plumbing that delivers them.
//
// A Stream belongs to one run. It numbers events, keeps the reported
// progress monotonic and guarantees that exactly one terminal event (result,
// error or cancelled) is delivered; anything emitted after the terminal
// event is dropped. Delivery goes through an EventEmitter, which fans each
// event out to the registered handlers such as an SSE writer or a recorder.
package events
