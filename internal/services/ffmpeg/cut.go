package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"atlas/internal/services"
	"atlas/internal/timeline"
)

// Cutter concatenates the kept spans of an audio file into a new file.
type Cutter struct {
	binary string
	run    OutputRunner
}

// NewCutter returns a Cutter that invokes binary ("ffmpeg" when blank).
func NewCutter(binary string) *Cutter {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Cutter{binary: binary, run: defaultOutputRunner}
}

// WithRunner replaces the command runner (for testing).
func (c *Cutter) WithRunner(run OutputRunner) *Cutter {
	c.run = run
	return c
}

// Cut writes the keep spans of source, in order, to dest. Output is written to
// a temporary sibling and renamed so dest never holds a partial file.
func (c *Cutter) Cut(ctx context.Context, source string, keep []timeline.Span, dest string) error {
	if len(keep) == 0 {
		return services.Wrap(services.ErrInvalidInput, "cut", "plan", "no audio left to keep", nil)
	}
	if err := timeline.Validate(keep, 0); err != nil {
		return services.Wrap(services.ErrInvalidInput, "cut", "plan", "keep spans", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("cut: ensure output dir: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+".part"+filepath.Ext(dest))
	args := BuildCutArgs(source, keep, tmp)
	if output, err := c.run(ctx, c.binary, args...); err != nil {
		_ = os.Remove(tmp)
		if ctx.Err() != nil {
			return services.Classify(ctx.Err())
		}
		return services.Wrap(services.ErrPermanent, "cut", "ffmpeg", strings.TrimSpace(string(output)), err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cut: finalize %s: %w", dest, err)
	}
	return nil
}

// BuildCutArgs produces the ffmpeg invocation that trims each keep span and
// concatenates the pieces.
func BuildCutArgs(source string, keep []timeline.Span, dest string) []string {
	var graph strings.Builder
	labels := make([]string, 0, len(keep))
	for i, span := range keep {
		label := fmt.Sprintf("[a%d]", i)
		fmt.Fprintf(&graph, "[0:a]atrim=start=%s:end=%s,asetpts=PTS-STARTPTS%s;",
			formatSeconds(span.Start), formatSeconds(span.End), label)
		labels = append(labels, label)
	}
	fmt.Fprintf(&graph, "%sconcat=n=%d:v=0:a=1[out]", strings.Join(labels, ""), len(keep))

	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-filter_complex", graph.String(),
		"-map", "[out]",
		"-vn",
		dest,
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
