// Package postgres provides PostgreSQL implementations of the task store
// and the card sink, together with the embedded schema migrations they
// depend on.
package postgres
