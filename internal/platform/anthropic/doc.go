// Package anthropic implements provider.Provider with the Anthropic Go SDK.
// Anthropic offers no embedding endpoint, so Embed reports
// provider.ErrUnsupported and the gateway moves on to the next provider.
package anthropic
