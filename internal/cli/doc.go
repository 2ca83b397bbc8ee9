// Package cli parses command-line arguments into an app.Config and carries
// process exit codes through ExitError.
package cli
