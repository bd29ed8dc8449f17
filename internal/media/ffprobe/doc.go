// Package ffprobe runs the ffprobe CLI on converted audio and reduces its
// JSON report to the codec, channel, sample rate and duration checks the
// convert stage needs.
package ffprobe
