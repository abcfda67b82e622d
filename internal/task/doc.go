// Package task defines the static surface of a data-refresh task: its
// descriptor (name plus the event names it produces and depends on), the
// capability interfaces a task implementation may satisfy, the explicit
// registry tasks are collected in at process init, and the event-derived
// dependency graph built over registered descriptors.
package task
