// Package app holds the wiring shared by the service and the command-line
// tool: logger and tracer setup, and construction of the pipeline runner from
// configuration.
package app
