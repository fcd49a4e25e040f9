// Package auth issues and validates the HS256 bearer tokens that guard the
// HTTP API. Tokens carry a subject naming the caller and nothing else.
package auth
