// Package convert implements the convert stage: raw episode audio is
// re-encoded with ffmpeg into the fixed channel count, sample rate and codec
// the recognition backends expect. The output path depends only on the item,
// and a file reaches its final name only after ffprobe confirms the encoding.
package convert
