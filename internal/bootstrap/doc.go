// Package bootstrap builds the application object graph from configuration:
// providers and the gateway, the cache layer, the pipeline stages and
// orchestrator, the card sink and the export task runner. Both the HTTP
// server and the command line client start from Build.
package bootstrap
