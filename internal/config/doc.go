// Package config loads and validates sdstored's settings file.
//
// The settings file is TOML and covers daemon plumbing only (directories,
// socket, logging, shutdown draining). The filter budget file named on the
// sdstored command line is a separate, line-oriented format owned by
// package catalog.
package config
