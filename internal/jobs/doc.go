// Package jobs provides the in-memory job registry behind the asynchronous
// API. Jobs move queued → running → done|error, never backwards, and a single
// worker executes them in submission order.
package jobs
