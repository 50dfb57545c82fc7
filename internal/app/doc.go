// Package app wires the application together: it owns configuration,
// constructs the logger, loads the node manifest, and drives one posting run
// against the remote store.
package app
