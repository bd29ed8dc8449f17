package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput() //nolint:gosec
}

// Audio summarizes the first audio stream of a file.
type Audio struct {
	Codec        string
	Channels     int
	SampleRate   int
	Duration     time.Duration
	AudioStreams int
}

type probeOutput struct {
	Streams []struct {
		CodecName  string `json:"codec_name"`
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe on path and summarizes its audio. An empty binary
// means "ffprobe" on PATH.
func Probe(ctx context.Context, run Runner, binary, path string) (Audio, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	if strings.TrimSpace(path) == "" {
		return Audio{}, errors.New("ffprobe: empty path")
	}
	if run == nil {
		run = ExecRunner
	}

	output, err := run(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	if err != nil {
		return Audio{}, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return parse(output)
}

func parse(output []byte) (Audio, error) {
	var probe probeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return Audio{}, fmt.Errorf("ffprobe: decode output: %w", err)
	}
	var audio Audio
	for _, stream := range probe.Streams {
		if !strings.EqualFold(stream.CodecType, "audio") {
			continue
		}
		audio.AudioStreams++
		if audio.AudioStreams > 1 {
			continue
		}
		audio.Codec = strings.ToLower(stream.CodecName)
		audio.Channels = stream.Channels
		audio.SampleRate, _ = strconv.Atoi(strings.TrimSpace(stream.SampleRate))
	}
	if seconds, err := strconv.ParseFloat(strings.TrimSpace(probe.Format.Duration), 64); err == nil && seconds > 0 {
		audio.Duration = time.Duration(seconds * float64(time.Second))
	}
	return audio, nil
}

// Expect reports the first way audio differs from the wanted codec, channel
// count and sample rate.
func (a Audio) Expect(codec string, channels, sampleRate int) error {
	switch {
	case a.AudioStreams == 0:
		return errors.New("output has no audio stream")
	case a.Codec != strings.ToLower(codec):
		return fmt.Errorf("output codec %q, want %s", a.Codec, codec)
	case a.Channels != channels:
		return fmt.Errorf("output has %d channels, want %d", a.Channels, channels)
	case a.SampleRate != sampleRate:
		return fmt.Errorf("output sample rate %d, want %d", a.SampleRate, sampleRate)
	}
	return nil
}
