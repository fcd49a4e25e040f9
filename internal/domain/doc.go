// Package domain contains the core entities of the card generation pipeline:
// generation requests, card candidates and their quality-gate states, topic
// segments, pipeline runs and the cards handed to an export sink. It is
// independent of any provider, transport or storage mechanism.
package domain
