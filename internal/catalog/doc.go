// Package catalog defines the closed set of filter kinds and the immutable
// mapping from each kind to its executable and concurrency limit.
//
// A Catalog is built once at daemon startup from the budget file and the
// filter binary directory, and is safe for concurrent reads afterwards.
package catalog
