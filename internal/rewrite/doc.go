// Package rewrite turns raw transcripts into purpose-specific text through an
// instruction-tuned language model reached over an OpenAI-compatible chat API.
package rewrite
