package whisperx

import "atlas/internal/config"

// Config captures runtime settings for WhisperX operations.
type Config struct {
	// Model is the WhisperX model to use (e.g., "large-v3").
	Model string
	// CUDAEnabled enables GPU acceleration.
	CUDAEnabled bool
	// VADMethod selects the voice activity detection method ("silero" or "pyannote").
	VADMethod string
	// HFToken is the Hugging Face token for pyannote VAD.
	HFToken        string
	Language       string
	BeamSize       int
	WordTimestamps bool
}

// ConfigFrom maps the [transcription] section onto a service Config.
func ConfigFrom(cfg *config.Config) Config {
	t := cfg.Transcription
	return Config{
		Model:          t.Model,
		CUDAEnabled:    t.CUDAEnabled,
		VADMethod:      t.VADMethod,
		HFToken:        t.HFToken,
		Language:       t.Language,
		BeamSize:       t.BeamSize,
		WordTimestamps: t.WordTimestamps,
	}
}

// WhisperX configuration constants.
const (
	DefaultModel      = "large-v3"
	DefaultBeamSize   = 5
	CUDAIndexURL      = "https://download.pytorch.org/whl/cu128"
	PypiIndexURL      = "https://pypi.org/simple"
	BatchSize         = "4"
	ChunkSize         = "15"
	VADOnset          = "0.08"
	VADOffset         = "0.07"
	Temperature       = "0.0"
	SegmentResolution = "sentence"
	OutputFormat      = "json"
	CPUDevice         = "cpu"
	CUDADevice        = "cuda"
	CPUComputeType    = "float32"
	VADMethodPyannote = "pyannote"
	VADMethodSilero   = "silero"
)

// Command names for external tools.
const (
	UVXCommand    = "uvx"
	FFmpegCommand = "ffmpeg"
)
