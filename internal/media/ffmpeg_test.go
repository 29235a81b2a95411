package media

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireBinary(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
	return path
}

func TestFFmpegRun_Success(t *testing.T) {
	f := NewFFmpeg(requireBinary(t, "true"), nil)
	assert.NoError(t, f.Run(context.Background(), "-i", "in", "out"))
}

func TestFFmpegRun_FailureCarriesExitCode(t *testing.T) {
	f := NewFFmpeg(requireBinary(t, "false"), nil)
	err := f.Run(context.Background(), "-i", "in", "out")
	require.Error(t, err)

	var encErr *EncodeError
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, 1, encErr.ExitCode)
	assert.Equal(t, []string{"-i", "in", "out"}, encErr.Args)
	assert.Contains(t, encErr.Error(), "code 1")
}

func TestFFmpegRun_MissingBinary(t *testing.T) {
	f := NewFFmpeg("/nonexistent/ffmpeg", nil)
	err := f.Run(context.Background())
	var encErr *EncodeError
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, -1, encErr.ExitCode)
	assert.Error(t, f.Available(context.Background()))
}

func TestTail(t *testing.T) {
	long := strings.Repeat("a", stderrTailBytes) + "END"
	got := tail(long)
	assert.Len(t, got, stderrTailBytes)
	assert.True(t, strings.HasSuffix(got, "END"))
	assert.Equal(t, "short", tail("  short\n"))
}

func TestAudioArgs(t *testing.T) {
	t.Run("single input resamples directly", func(t *testing.T) {
		args, err := AudioArgs([]RawAudioInput{{Path: "a.pcm", SampleRate: 16000}}, "out.wav")
		require.NoError(t, err)
		assert.Equal(t, []string{
			"-f", "s16le", "-ar", "16000", "-ac", "1", "-i", "a.pcm",
			"-ar", "24000",
			"-ac", "1", "-c:a", "pcm_s16le", "out.wav",
		}, args)
	})

	t.Run("multiple inputs resample then concat", func(t *testing.T) {
		args, err := AudioArgs([]RawAudioInput{
			{Path: "a.pcm", SampleRate: 16000},
			{Path: "b.pcm", SampleRate: 24000},
		}, "out.wav")
		require.NoError(t, err)
		joined := strings.Join(args, " ")
		assert.Contains(t, joined, "-ar 16000 -ac 1 -i a.pcm")
		assert.Contains(t, joined, "-ar 24000 -ac 1 -i b.pcm")
		assert.Contains(t, joined, "[0:a]aresample=24000[a0];[1:a]aresample=24000[a1];[a0][a1]concat=n=2:v=0:a=1[out]")
		assert.Contains(t, joined, "-map [out]")
		assert.Equal(t, "out.wav", args[len(args)-1])
	})

	t.Run("rejects empty and bad rates", func(t *testing.T) {
		_, err := AudioArgs(nil, "out.wav")
		assert.Error(t, err)
		_, err = AudioArgs([]RawAudioInput{{Path: "a.pcm"}}, "out.wav")
		assert.Error(t, err)
	})
}

func TestVideoArgs(t *testing.T) {
	args, err := VideoArgs("/tmp/x/frame_%05d.jpg", 10, "/tmp/x/out.mp4")
	require.NoError(t, err)
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-framerate 10")
	assert.Contains(t, joined, "-c:v libx264")
	assert.Contains(t, joined, "-pix_fmt yuv420p")
	assert.Contains(t, joined, "-movflags +faststart")
	assert.Equal(t, "/tmp/x/out.mp4", args[len(args)-1])

	_, err = VideoArgs("p", 0, "o")
	assert.Error(t, err)
}
