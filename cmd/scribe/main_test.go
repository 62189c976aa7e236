package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jenanos/scribe-service/internal/audio"
	"github.com/jenanos/scribe-service/internal/rewrite"
	"github.com/jenanos/scribe-service/internal/transcription"
)

// When this variable is set the test binary stands in for ffmpeg and writes
// that many seconds of silence to the last argument.
const fakeFFmpegEnv = "SCRIBE_TEST_FFMPEG_SECONDS"

func TestMain(m *testing.M) {
	if seconds := os.Getenv(fakeFFmpegEnv); seconds != "" {
		os.Exit(fakeFFmpeg(seconds, os.Args[1:]))
	}
	os.Exit(m.Run())
}

func fakeFFmpeg(seconds string, args []string) int {
	n, err := strconv.Atoi(seconds)
	if err != nil || len(args) == 0 {
		fmt.Fprintln(os.Stderr, "bad fake ffmpeg invocation")
		return 2
	}

	rate := 16000
	for i, a := range args[:len(args)-1] {
		if a == "-ar" {
			rate, _ = strconv.Atoi(args[i+1])
		}
	}

	if err := audio.WriteWAV(args[len(args)-1], make([]int16, n*rate), rate); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

type cliEnv struct {
	dir     string
	tempDir string
	config  string
	input   string
}

func newCLIEnv(t *testing.T, seconds int) *cliEnv {
	t.Helper()
	t.Setenv(fakeFFmpegEnv, strconv.Itoa(seconds))
	t.Setenv("DEV_STUB", "1")

	env := &cliEnv{dir: t.TempDir(), tempDir: t.TempDir()}
	env.input = filepath.Join(env.dir, "standup.m4a")
	require.NoError(t, os.WriteFile(env.input, []byte("container bytes"), 0o600))

	env.config = filepath.Join(env.dir, "config.yaml")
	yaml := fmt.Sprintf("audio:\n  ffmpeg_path: %q\n  temp_dir: %q\nlogging:\n  level: \"error\"\n  output: \"stderr\"\n",
		os.Args[0], env.tempDir)
	require.NoError(t, os.WriteFile(env.config, []byte(yaml), 0o600))
	return env
}

func stubTranscript(segments int) string {
	lines := make([]string, segments)
	for i := range lines {
		lines[i] = fmt.Sprintf("%s %d", transcription.StubText, i+1)
	}
	return strings.Join(lines, "\n")
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRunWritesRawAndClean(t *testing.T) {
	env := newCLIEnv(t, 65)
	base := filepath.Join(env.dir, "out", "notes")
	require.NoError(t, os.MkdirAll(filepath.Dir(base), 0o755))

	require.NoError(t, run(env.input, env.config, base, 30, "email", true))

	require.Equal(t, stubTranscript(3), readFile(t, base+"_raw.txt"))
	require.Equal(t, rewrite.StubText, readFile(t, base+"_clean.txt"))

	// The CLI never deletes its input, and leaves no temporary files
	require.FileExists(t, env.input)
	entries, err := os.ReadDir(env.tempDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRunWithoutRewriteSkipsCleanFile(t *testing.T) {
	env := newCLIEnv(t, 5)
	base := filepath.Join(env.dir, "memo")

	require.NoError(t, run(env.input, env.config, base, 0, "summary", false))

	require.Equal(t, stubTranscript(1), readFile(t, base+"_raw.txt"))
	require.NoFileExists(t, base+"_clean.txt")
	require.FileExists(t, env.input)
}

func TestRunSegmentLengthOverride(t *testing.T) {
	env := newCLIEnv(t, 25)
	base := filepath.Join(env.dir, "short")

	require.NoError(t, run(env.input, env.config, base, 10, "polish", false))
	require.Equal(t, stubTranscript(3), readFile(t, base+"_raw.txt"))
}

func TestRunDefaultsOutputBaseToInputName(t *testing.T) {
	env := newCLIEnv(t, 5)
	workDir := t.TempDir()
	t.Chdir(workDir)

	require.NoError(t, run(env.input, env.config, "", 0, "summary", true))

	require.FileExists(t, filepath.Join(workDir, "standup_raw.txt"))
	require.FileExists(t, filepath.Join(workDir, "standup_clean.txt"))
}

func TestRunRejectsUnknownMode(t *testing.T) {
	env := newCLIEnv(t, 5)
	base := filepath.Join(env.dir, "haiku")

	err := run(env.input, env.config, base, 0, "haiku", true)
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown mode "haiku"`)
	require.NoFileExists(t, base+"_raw.txt")
	require.FileExists(t, env.input)
}

func TestRunMissingInput(t *testing.T) {
	env := newCLIEnv(t, 5)

	err := run(filepath.Join(env.dir, "gone.m4a"), env.config, "", 0, "summary", true)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestModeListNamesEveryMode(t *testing.T) {
	list := modeList()
	for _, m := range rewrite.Modes() {
		require.Contains(t, list, string(m))
	}
}
