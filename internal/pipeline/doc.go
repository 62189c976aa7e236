/*
Package pipeline runs one audio input through decode, segmentation, speech
recognition and optional rewriting.

A run owns every temporary file it touches: the uploaded input, the canonical
waveform and the segment directory are registered in a cleanup scope as they
are created and removed when Run returns, whichever way it returns. Segments
and recognizer device memory are released as soon as recognition finishes so
the rewrite model can load into the same accelerator.

Failures are reported as *StageError values that match ErrDecode,
ErrSegmentation, ErrASR or ErrRewrite with errors.Is.

A Runner admits one run at a time.
*/
package pipeline
