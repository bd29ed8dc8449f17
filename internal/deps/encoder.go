package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// EncoderLister returns the output of `ffmpeg -encoders`.
type EncoderLister func(ctx context.Context, binary string) ([]byte, error)

func listEncoders(ctx context.Context, binary string) ([]byte, error) {
	return exec.CommandContext(ctx, binary, "-hide_banner", "-encoders").Output() //nolint:gosec
}

// CheckFFmpegEncoder reports whether the ffmpeg binary can encode with the
// named audio encoder.
func CheckFFmpegEncoder(ctx context.Context, binary, encoder string) Status {
	return checkFFmpegEncoder(ctx, binary, encoder, listEncoders)
}

func checkFFmpegEncoder(ctx context.Context, binary, encoder string, list EncoderLister) Status {
	status := Status{
		Name:        "FFmpeg " + encoder,
		Command:     strings.TrimSpace(binary),
		Description: "Required to convert raw audio for recognition",
	}
	if status.Detail = lookup(status.Command); status.Detail != "" {
		return status
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := list(checkCtx, status.Command)
	if err != nil {
		status.Detail = fmt.Sprintf("list encoders: %v", err)
		return status
	}
	if !HasEncoder(out, encoder) {
		status.Detail = fmt.Sprintf("encoder %q not available in this ffmpeg build", encoder)
		return status
	}
	status.Available = true
	return status
}

// HasEncoder scans `ffmpeg -encoders` output for an audio encoder name.
// Encoder lines start with a six character capability field such as
// " A....D flac".
func HasEncoder(output []byte, encoder string) bool {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		caps := fields[0]
		if len(caps) != 6 || caps[0] != 'A' {
			continue
		}
		if fields[1] == encoder {
			return true
		}
	}
	return false
}
