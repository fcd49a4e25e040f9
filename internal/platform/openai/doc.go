// Package openai implements provider.Provider with the official OpenAI Go SDK.
// The same adapter serves the local offline provider: any OpenAI-compatible
// endpoint (Ollama, llama.cpp server, LM Studio) reached through a base URL.
package openai
