// Package daemon glues the catalog, ledger, record store, and scheduler into
// the long-lived sdstored process and enforces single-instance execution.
package daemon
