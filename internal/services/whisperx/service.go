package whisperx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"atlas/internal/catalog"
	"atlas/internal/services"
)

// CommandRunner executes an external command.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// Service provides WhisperX transcription capabilities.
type Service struct {
	cfg           Config
	ffmpegBinary  string
	commandRunner CommandRunner
}

// NewService creates a WhisperX service with the given configuration.
func NewService(cfg Config, ffmpegBinary string) *Service {
	if ffmpegBinary == "" {
		ffmpegBinary = FFmpegCommand
	}
	return &Service{
		cfg:          cfg,
		ffmpegBinary: ffmpegBinary,
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner CommandRunner) {
	s.commandRunner = runner
}

// Model returns the configured model name for logging.
func (s *Service) Model() string {
	if s.cfg.Model != "" {
		return s.cfg.Model
	}
	return DefaultModel
}

func (s *Service) run(ctx context.Context, name string, args ...string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec

	// Torch 2.6 changed torch.load default to weights_only=true, breaking WhisperX/pyannote.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Result is a generated transcript.
type Result struct {
	Segments   []catalog.TranscriptSegment
	Text       string
	Language   string
	Confidence float64
	JSONPath   string
}

// Transcribe extracts audio from source into workDir and runs WhisperX on it.
func (s *Service) Transcribe(ctx context.Context, source, workDir string) (Result, error) {
	if strings.TrimSpace(source) == "" {
		return Result{}, services.Wrap(services.ErrInvalidInput, "transcribe", "whisperx", "source path required", nil)
	}
	if workDir == "" {
		workDir = filepath.Dir(source)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("transcribe: ensure work dir: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	wavPath := filepath.Join(workDir, base+".wav")
	if err := s.run(ctx, s.ffmpegBinary, buildExtractArgs(source, wavPath)...); err != nil {
		return Result{}, services.Wrap(services.ErrPermanent, "transcribe", "extract audio", "ffmpeg failed", err)
	}
	defer os.Remove(wavPath)

	if err := s.run(ctx, UVXCommand, s.buildArgs(wavPath, workDir)...); err != nil {
		if ctx.Err() != nil {
			return Result{}, services.Classify(ctx.Err())
		}
		return Result{}, services.Wrap(services.ErrTransient, "transcribe", "whisperx", "whisperx failed", err)
	}

	jsonPath := filepath.Join(workDir, base+".json")
	payload, err := loadPayload(jsonPath)
	if err != nil {
		return Result{}, services.Wrap(services.ErrPermanent, "transcribe", "parse output", jsonPath, err)
	}
	result := payload.result()
	result.JSONPath = jsonPath
	if result.Language == "" {
		result.Language = s.cfg.Language
	}
	return result, nil
}

// buildArgs constructs the uvx command arguments for WhisperX.
func (s *Service) buildArgs(source, outputDir string) []string {
	args := make([]string, 0, 40)
	if s.cfg.CUDAEnabled {
		args = append(args,
			"--index-url", CUDAIndexURL,
			"--extra-index-url", PypiIndexURL,
		)
	} else {
		args = append(args, "--index-url", PypiIndexURL)
	}

	beam := s.cfg.BeamSize
	if beam <= 0 {
		beam = DefaultBeamSize
	}
	args = append(args,
		"whisperx",
		source,
		"--model", s.Model(),
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", OutputFormat,
		"--segment_resolution", SegmentResolution,
		"--chunk_size", ChunkSize,
		"--vad_onset", VADOnset,
		"--vad_offset", VADOffset,
		"--beam_size", strconv.Itoa(beam),
		"--temperature", Temperature,
	)

	vadMethod := s.cfg.VADMethod
	if vadMethod == "" {
		vadMethod = VADMethodSilero
	}
	args = append(args, "--vad_method", vadMethod)
	if vadMethod == VADMethodPyannote && s.cfg.HFToken != "" {
		args = append(args, "--hf_token", s.cfg.HFToken)
	}
	if lang := strings.TrimSpace(s.cfg.Language); lang != "" {
		args = append(args, "--language", lang)
	}
	if !s.cfg.WordTimestamps {
		args = append(args, "--no_align")
	}
	if s.cfg.CUDAEnabled {
		args = append(args, "--device", CUDADevice)
	} else {
		args = append(args, "--device", CPUDevice, "--compute_type", CPUComputeType)
	}
	return args
}

// Word represents a single word with timing from WhisperX output.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Score float64 `json:"score"`
}

// Segment represents a transcribed segment from WhisperX JSON output.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []Word  `json:"words"`
}

type whisperXPayload struct {
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
}

func loadPayload(jsonPath string) (whisperXPayload, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return whisperXPayload{}, err
	}
	var payload whisperXPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return whisperXPayload{}, fmt.Errorf("parse whisperx json: %w", err)
	}
	return payload, nil
}

// result flattens segments into catalog form. Confidence is the mean word
// score when word alignment ran.
func (p whisperXPayload) result() Result {
	var (
		out    Result
		parts  []string
		scores float64
		words  int
	)
	for _, seg := range p.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		out.Segments = append(out.Segments, catalog.TranscriptSegment{Start: seg.Start, End: seg.End, Text: text})
		parts = append(parts, text)
		for _, w := range seg.Words {
			if w.Score > 0 {
				scores += w.Score
				words++
			}
		}
	}
	out.Text = strings.Join(parts, " ")
	out.Language = p.Language
	if words > 0 {
		out.Confidence = scores / float64(words)
	}
	return out
}
