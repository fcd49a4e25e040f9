// Package provider defines the capability interface every LLM backend
// implements and the error taxonomy the gateway uses to decide between
// retrying, falling back to another provider, and surfacing a failure.
//
// Vendor adapters live under internal/platform and translate their SDK
// errors into the sentinels declared here.
package provider
