package media

import (
	"fmt"
	"strconv"
	"strings"
)

// OutputSampleRate is the rate every rendered segment track is resampled to.
const OutputSampleRate = 24000

// RawAudioInput is one headerless mono s16le PCM file.
type RawAudioInput struct {
	Path       string
	SampleRate int
}

// AudioArgs concatenates raw PCM inputs into a single mono 24 kHz WAV file.
// Each input is resampled on its own so inputs at different rates can be joined.
func AudioArgs(inputs []RawAudioInput, output string) ([]string, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no audio inputs")
	}
	var args []string
	for _, in := range inputs {
		rate := in.SampleRate
		if rate <= 0 {
			return nil, fmt.Errorf("invalid sample rate %d for %s", rate, in.Path)
		}
		args = append(args, "-f", "s16le", "-ar", strconv.Itoa(rate), "-ac", "1", "-i", in.Path)
	}

	if len(inputs) == 1 {
		args = append(args, "-ar", strconv.Itoa(OutputSampleRate))
	} else {
		var graph strings.Builder
		for i := range inputs {
			fmt.Fprintf(&graph, "[%d:a]aresample=%d[a%d];", i, OutputSampleRate, i)
		}
		for i := range inputs {
			fmt.Fprintf(&graph, "[a%d]", i)
		}
		fmt.Fprintf(&graph, "concat=n=%d:v=0:a=1[out]", len(inputs))
		args = append(args, "-filter_complex", graph.String(), "-map", "[out]")
	}

	args = append(args, "-ac", "1", "-c:a", "pcm_s16le", output)
	return args, nil
}

// VideoArgs encodes a numbered image sequence (e.g. frame_%05d.jpg) as H.264 MP4.
func VideoArgs(pattern string, frameRate int, output string) ([]string, error) {
	if frameRate <= 0 {
		return nil, fmt.Errorf("invalid frame rate %d", frameRate)
	}
	return []string{
		"-framerate", strconv.Itoa(frameRate),
		"-start_number", "0",
		"-i", pattern,
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		output,
	}, nil
}
