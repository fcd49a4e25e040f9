// Package store defines the shared persistence contracts: the DBTX
// abstraction over *sql.DB and *sql.Tx, transaction handling and the
// errors every store implementation maps its failures onto.
package store
