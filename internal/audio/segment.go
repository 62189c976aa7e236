package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Segment is one bounded-duration slice of a canonical waveform written to disk
type Segment struct {
	Index    int           `json:"index"`
	Path     string        `json:"path"`
	Offset   int           `json:"offset_samples"` // first sample in the source waveform
	Samples  int           `json:"samples"`
	Duration time.Duration `json:"duration"`
}

// SegmentSet is the ordered output of one Split call. All segment files live
// in Dir, which the caller removes as a unit through Cleanup.
type SegmentSet struct {
	Dir        string
	SampleRate int
	Segments   []Segment
}

// Paths returns segment file paths in time order
func (s *SegmentSet) Paths() []string {
	paths := make([]string, len(s.Segments))
	for i, seg := range s.Segments {
		paths[i] = seg.Path
	}
	return paths
}

// Duration returns the summed duration of all segments
func (s *SegmentSet) Duration() time.Duration {
	total := 0
	for _, seg := range s.Segments {
		total += seg.Samples
	}
	return SamplesDuration(total, s.SampleRate)
}

// Cleanup removes the segment directory and everything in it
func (s *SegmentSet) Cleanup() error {
	if s == nil || s.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		return err
	}
	s.Dir = ""
	return nil
}

// Segmenter slices canonical waveforms into fixed-length segment files
type Segmenter struct {
	tempDir string
}

// NewSegmenter creates a segmenter writing into fresh directories under tempDir
// ("" uses os.TempDir()).
func NewSegmenter(tempDir string) *Segmenter {
	return &Segmenter{tempDir: tempDir}
}

// SamplesPerSegment converts a segment length into a sample count at sampleRate
func SamplesPerSegment(length time.Duration, sampleRate int) int {
	return int(int64(length) * int64(sampleRate) / int64(time.Second))
}

// SplitSamples partitions samples into consecutive non-overlapping windows of
// perSegment samples. The last window may be shorter; no padding is added.
// The returned slices alias the input.
func SplitSamples(samples []int16, perSegment int) [][]int16 {
	if perSegment <= 0 || len(samples) == 0 {
		return nil
	}

	windows := make([][]int16, 0, (len(samples)+perSegment-1)/perSegment)
	for start := 0; start < len(samples); start += perSegment {
		end := min(start+perSegment, len(samples))
		windows = append(windows, samples[start:end])
	}
	return windows
}

// Split reads the canonical waveform at waveformPath and writes each window of
// length to its own file in a new temporary directory, named seg_00000.wav,
// seg_00001.wav, ... so that lexical order matches time order. A waveform
// shorter than length yields exactly one segment and an empty waveform yields
// none. On error the directory is removed before returning.
func (s *Segmenter) Split(waveformPath string, length time.Duration) (*SegmentSet, error) {
	waveform, err := ReadWAV(waveformPath)
	if err != nil {
		return nil, err
	}

	return s.SplitWaveform(waveform, length)
}

// SplitWaveform is Split for a waveform already held in memory
func (s *Segmenter) SplitWaveform(waveform *Waveform, length time.Duration) (*SegmentSet, error) {
	perSegment := SamplesPerSegment(length, waveform.SampleRate)
	if perSegment < 1 {
		return nil, fmt.Errorf("segment length %s is shorter than one sample at %d Hz", length, waveform.SampleRate)
	}

	// Nothing to slice; no directory is created
	if len(waveform.Samples) == 0 {
		return &SegmentSet{SampleRate: waveform.SampleRate}, nil
	}

	dir, err := os.MkdirTemp(s.tempDir, "segments-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create segment directory: %w", err)
	}

	set := &SegmentSet{
		Dir:        dir,
		SampleRate: waveform.SampleRate,
	}

	for i, window := range SplitSamples(waveform.Samples, perSegment) {
		path := filepath.Join(dir, fmt.Sprintf("seg_%05d.wav", i))
		if err := WriteWAV(path, window, waveform.SampleRate); err != nil {
			set.Cleanup()
			return nil, fmt.Errorf("failed to write segment %d: %w", i, err)
		}

		set.Segments = append(set.Segments, Segment{
			Index:    i,
			Path:     path,
			Offset:   i * perSegment,
			Samples:  len(window),
			Duration: SamplesDuration(len(window), waveform.SampleRate),
		})
	}

	return set, nil
}
