// Package app wires the process together: it loads the configuration, builds
// the registry and the lifecycle manager, and runs the reload loop, the
// health server and the console until shutdown. It is decoupled from any
// specific entrypoint like a CLI.
package app
