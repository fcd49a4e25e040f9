// Package testdb provides helpers for tests that need a real PostgreSQL
// database. Tests using it are skipped unless SCRY_TEST_DATABASE_URL is set.
// Each test gets a migrated schema and should run its statements inside
// WithTx so nothing it writes survives the test.
package testdb
