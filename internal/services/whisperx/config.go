package whisperx

import "strings"

// UVXCommand launches WhisperX in an isolated environment.
const UVXCommand = "uvx"

const (
	DefaultModel      = "large-v3"
	CPUDevice         = "cpu"
	CUDADevice        = "cuda"
	VADMethodSilero   = "silero"
	VADMethodPyannote = "pyannote"

	cudaIndexURL   = "https://download.pytorch.org/whl/cu128"
	pypiIndexURL   = "https://pypi.org/simple"
	cpuComputeType = "float32"
)

// decodeFlags are fixed decoding options. Output is always the JSON segment
// file Poll reads.
var decodeFlags = [][2]string{
	{"--batch_size", "4"},
	{"--output_format", "json"},
	{"--segment_resolution", "sentence"},
	{"--chunk_size", "15"},
	{"--vad_onset", "0.08"},
	{"--vad_offset", "0.07"},
	{"--beam_size", "10"},
	{"--best_of", "10"},
	{"--temperature", "0.0"},
	{"--patience", "1.0"},
}

// Config holds the local recognizer settings.
type Config struct {
	Model       string
	CUDAEnabled bool
	// VADMethod is VADMethodSilero (default) or VADMethodPyannote, which
	// needs HFToken.
	VADMethod string
	HFToken   string
	// WorkDir holds one output directory per job.
	WorkDir string
}

func (c Config) model() string {
	if m := strings.TrimSpace(c.Model); m != "" {
		return m
	}
	return DefaultModel
}

func (c Config) vadArgs() []string {
	method := strings.TrimSpace(c.VADMethod)
	if method == "" {
		method = VADMethodSilero
	}
	args := []string{"--vad_method", method}
	if method == VADMethodPyannote && c.HFToken != "" {
		args = append(args, "--hf_token", c.HFToken)
	}
	return args
}

func (c Config) indexArgs() []string {
	if c.CUDAEnabled {
		return []string{"--index-url", cudaIndexURL, "--extra-index-url", pypiIndexURL}
	}
	return []string{"--index-url", pypiIndexURL}
}

func (c Config) deviceArgs() []string {
	if c.CUDAEnabled {
		return []string{"--device", CUDADevice}
	}
	return []string{"--device", CPUDevice, "--compute_type", cpuComputeType}
}
