// Package config loads the worker configuration file. The file is HCL and
// describes everything the process needs before a single task runs: which
// state store backend to use, scheduling defaults, and an optional set of
// parameters handed to every job.
//
// The loaded Config is the single source of truth for the app package; the
// engine itself never reads configuration.
package config
