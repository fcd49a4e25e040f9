// Package gateway routes completion and embedding calls to the configured
// LLM providers.
//
// The gateway owns the cross-provider policy: per-call deadlines, one retry
// with exponential backoff and jitter for transient failures, a fallback
// chain (requested provider, then providers holding a paid key, then the
// local offline provider) and response caching through the cache layer.
// Provider adapters only translate their SDK errors into the taxonomy of the
// provider package.
package gateway
