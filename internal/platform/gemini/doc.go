// Package gemini implements provider.Provider on top of the Google GenAI SDK
// (google.golang.org/genai) using the Gemini API backend.
//
// The adapter is deliberately thin: it shapes requests, extracts text and
// vectors from responses and classifies SDK errors into the provider error
// taxonomy. Retries, fallback, timeouts and caching belong to the gateway.
//
// Safety blocks (a SAFETY, BLOCKLIST or PROHIBITED_CONTENT finish reason, or
// a blocked prompt) are reported as provider.ErrContentBlocked and are never
// retried.
package gemini
