// Package server implements the HTTP API: synchronous and queued transcription
// of uploaded audio, job polling, and the health, config, stats and metrics
// endpoints used for monitoring.
package server
