// Package audio turns uploaded recordings into ordered, bounded-duration WAV segments.
// It normalizes arbitrary containers to mono 16 kHz PCM through ffmpeg, encodes and
// decodes WAV files, and slices canonical waveforms into fixed-length segment files.
package audio
