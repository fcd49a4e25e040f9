// Package config handles configuration loading, parsing, and validation
// from environment variables (SCRY_ prefix) and an optional YAML file. It
// covers the HTTP server, provider credentials and per-role models, pipeline
// and quality tuning constants, cache sizing and the export worker pool.
package config
