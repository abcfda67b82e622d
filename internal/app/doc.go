// Package app contains the worker composition root. It defines the main App
// struct, its configuration, and the primary execution lifecycle, decoupled
// from any specific entrypoint like a CLI or server. The app owns logger and
// store setup; task registrations are supplied by the embedding program.
package app
