package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"streamgate/internal/domain"
)

// Prober wraps ffprobe for media metadata and codec detection.
type Prober struct {
	binary string
}

func NewProber(binary string) *Prober {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{binary: bin}
}

// ProbeResult carries the fields that drive mode selection and status output.
type ProbeResult struct {
	Duration   float64
	VideoCodec string
}

func (p *Prober) Probe(ctx context.Context, filePath string) (ProbeResult, error) {
	path := strings.TrimSpace(filePath)
	if path == "" {
		return ProbeResult{}, errors.New("file path is required")
	}
	return p.runProbe(ctx, []string{
		"-v", "quiet",
		"-probesize", "100M",
		"-analyzeduration", "100M",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	}, nil)
}

// ProbeReader probes a live byte stream over stdin. Used for torrent sources
// where no staged file exists; the reader supplies the file head.
func (p *Prober) ProbeReader(ctx context.Context, reader io.Reader) (ProbeResult, error) {
	if reader == nil {
		return ProbeResult{}, errors.New("reader is required")
	}
	return p.runProbe(ctx, []string{
		"-v", "quiet",
		"-probesize", "100M",
		"-analyzeduration", "100M",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		"-i", "pipe:0",
	}, reader)
}

const maxProbeTimeout = 30 * time.Second

func (p *Prober) runProbe(ctx context.Context, args []string, stdin io.Reader) (ProbeResult, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxProbeTimeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, p.binary, args...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result, parseErr := parseProbeOutput(stdout.Bytes())
	if parseErr != nil {
		if runErr != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				return ProbeResult{}, fmt.Errorf("ffprobe failed: %w", runErr)
			}
			return ProbeResult{}, fmt.Errorf("ffprobe failed: %w: %s", runErr, msg)
		}
		return ProbeResult{}, fmt.Errorf("ffprobe output parse failed: %w", parseErr)
	}

	// ffprobe can exit non-zero for partially downloaded files but still emit
	// usable format metadata. Keep it if we have it.
	if runErr != nil && result.Duration == 0 && result.VideoCodec == "" {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return ProbeResult{}, fmt.Errorf("ffprobe failed: %w", runErr)
		}
		return ProbeResult{}, fmt.Errorf("ffprobe failed: %w: %s", runErr, msg)
	}

	return result, nil
}

type probePayload struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

func parseProbeOutput(data []byte) (ProbeResult, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return ProbeResult{}, err
	}

	var result ProbeResult
	for _, stream := range payload.Streams {
		if stream.CodecType == "video" && result.VideoCodec == "" {
			result.VideoCodec = stream.CodecName
		}
	}
	if payload.Format.Duration != "" {
		if d, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil && d > 0 {
			result.Duration = d
		}
	}
	return result, nil
}

// MediaInfo converts a probe result into the session's media metadata.
func (r ProbeResult) MediaInfo() *domain.MediaInfo {
	if r.Duration <= 0 {
		return nil
	}
	return &domain.MediaInfo{
		Duration:          r.Duration,
		DurationFormatted: domain.FormatDuration(r.Duration),
	}
}
