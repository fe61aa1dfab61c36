// Package common provides the ambient stack shared by the broker and peer
// binaries: structured logging, configuration loading, and the error-code
// registry.
package common

// Version is the current version of the meshrpc fabric.
const Version = "0.1.0"
