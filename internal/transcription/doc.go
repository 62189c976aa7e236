// Package transcription implements the speech recognition collaborator.
// Segments are posted one at a time as multipart form data to an HTTP ASR backend,
// with exponential-backoff retries on transient failures and an optional call that
// asks the backend to release model memory between pipeline stages.
package transcription
