package audio

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSplitSamplesProperties(t *testing.T) {
	tests := []struct {
		name       string
		total      int
		perSegment int
	}{
		{"shorter than one segment", 7, 10},
		{"exact multiple", 30, 10},
		{"remainder", 65, 30},
		{"single sample segments", 5, 1},
		{"one sample total", 1, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := make([]int16, tt.total)
			for i := range samples {
				samples[i] = int16(i)
			}

			windows := SplitSamples(samples, tt.perSegment)

			expected := (tt.total + tt.perSegment - 1) / tt.perSegment
			require.Len(t, windows, expected)

			var rebuilt []int16
			for i, w := range windows {
				if i < len(windows)-1 {
					require.Len(t, w, tt.perSegment)
				} else {
					last := tt.total % tt.perSegment
					if last == 0 {
						last = tt.perSegment
					}
					require.Len(t, w, last)
				}
				rebuilt = append(rebuilt, w...)
			}
			require.Equal(t, samples, rebuilt)
		})
	}
}

func TestSplitSamplesDegenerate(t *testing.T) {
	require.Nil(t, SplitSamples(nil, 10))
	require.Nil(t, SplitSamples([]int16{1, 2}, 0))
}

func TestSplitSixtyFiveSecondsIntoThree(t *testing.T) {
	sampleRate := 16000
	samples := sineWave(sampleRate, 65*time.Second)
	source := filepath.Join(t.TempDir(), "canonical.wav")
	require.NoError(t, WriteWAV(source, samples, sampleRate))

	segmenter := NewSegmenter(t.TempDir())
	set, err := segmenter.Split(source, 30*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { set.Cleanup() })

	require.Len(t, set.Segments, 3)
	require.Equal(t, 30*time.Second, set.Segments[0].Duration)
	require.Equal(t, 30*time.Second, set.Segments[1].Duration)
	require.Equal(t, 5*time.Second, set.Segments[2].Duration)
	require.Equal(t, 65*time.Second, set.Duration())

	// Lexical order of names matches time order
	paths := set.Paths()
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	require.Equal(t, sorted, paths)

	var rebuilt []int16
	for i, seg := range set.Segments {
		require.Equal(t, i, seg.Index)
		require.Equal(t, i*30*sampleRate, seg.Offset)
		require.Equal(t, set.Dir, filepath.Dir(seg.Path))

		w, err := ReadWAV(seg.Path)
		require.NoError(t, err)
		require.Equal(t, sampleRate, w.SampleRate)
		rebuilt = append(rebuilt, w.Samples...)
	}
	require.Equal(t, samples, rebuilt)
}

func TestSplitShortWaveformYieldsOneSegment(t *testing.T) {
	waveform := &Waveform{Samples: sineWave(16000, 2*time.Second), SampleRate: 16000}

	set, err := NewSegmenter(t.TempDir()).SplitWaveform(waveform, 30*time.Second)
	require.NoError(t, err)
	defer set.Cleanup()

	require.Len(t, set.Segments, 1)
	require.Equal(t, 2*time.Second, set.Segments[0].Duration)
}

func TestSplitEmptyWaveformYieldsNoSegments(t *testing.T) {
	parent := t.TempDir()
	waveform := &Waveform{SampleRate: 16000}

	set, err := NewSegmenter(parent).SplitWaveform(waveform, 30*time.Second)
	require.NoError(t, err)
	require.Empty(t, set.Segments)
	require.Empty(t, set.Paths())
	require.Zero(t, set.Duration())
	require.NoError(t, set.Cleanup())

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSplitRejectsSubSampleLength(t *testing.T) {
	waveform := &Waveform{Samples: []int16{1, 2, 3}, SampleRate: 16000}

	_, err := NewSegmenter(t.TempDir()).SplitWaveform(waveform, time.Microsecond)
	require.Error(t, err)
}

func TestSplitUnreadableWaveform(t *testing.T) {
	_, err := NewSegmenter(t.TempDir()).Split(filepath.Join(t.TempDir(), "missing.wav"), 30*time.Second)
	require.Error(t, err)
}

func TestSegmentSetCleanup(t *testing.T) {
	waveform := &Waveform{Samples: sineWave(16000, 3*time.Second), SampleRate: 16000}

	set, err := NewSegmenter(t.TempDir()).SplitWaveform(waveform, time.Second)
	require.NoError(t, err)
	require.Len(t, set.Segments, 3)

	dir := set.Dir
	require.DirExists(t, dir)
	require.NoError(t, set.Cleanup())
	require.NoDirExists(t, dir)

	// Idempotent
	require.NoError(t, set.Cleanup())
	var nilSet *SegmentSet
	require.NoError(t, nilSet.Cleanup())
}
