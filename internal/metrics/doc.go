// Package metrics defines the Prometheus collectors for the job queue, the
// pipeline stages and the HTTP API.
package metrics
