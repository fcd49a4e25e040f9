// Package task runs card exports in the background. Accepted cards posted
// for export become tasks that a bounded worker pool renders and uploads to
// the configured card sink, so HTTP handlers never wait on the sink. Task
// status is kept in a TaskStore and unfinished tasks are recovered on start.
package task
