package transcode

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"streamgate/internal/domain"
	"streamgate/internal/metrics"
)

// Mode selects how the subprocess produces HLS output.
type Mode string

const (
	// ModeCopy repackages already-H.264 video into TS segments without
	// re-encoding.
	ModeCopy Mode = "copy"
	// ModeEncode re-encodes to H.264 baseline for broad client support.
	ModeEncode Mode = "encode"
)

// PickMode chooses copy-mux when the container is MP4 or the probed video
// codec is H.264; everything else goes through the baseline encoder.
func PickMode(fileName, videoCodec string) Mode {
	if strings.EqualFold(filepath.Ext(fileName), ".mp4") {
		return ModeCopy
	}
	if strings.Contains(strings.ToLower(videoCodec), "h264") {
		return ModeCopy
	}
	return ModeEncode
}

// BuildArgs assembles the ffmpeg argument list for the given mode. input is
// either a staged file path or "pipe:0" for live torrent streaming. Output
// lands in outDir as playlist.m3u8 plus segment_NNN.ts files.
func BuildArgs(mode Mode, input, outDir string, segmentSeconds, threads int) []string {
	args := []string{"-i", input}

	switch mode {
	case ModeCopy:
		args = append(args,
			"-c:v", "copy",
			"-c:a", "copy",
			"-bsf:v", "h264_mp4toannexb",
		)
	default:
		args = append(args,
			"-c:v", "libx264",
			"-profile:v", "baseline",
			"-level", "3.0",
			"-preset", "veryfast",
			"-c:a", "aac",
			"-fflags", "+nobuffer",
		)
	}

	if threads > 0 {
		args = append(args, "-threads", fmt.Sprintf("%d", threads))
	}

	args = append(args,
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", segmentSeconds),
		"-hls_list_size", "0",
		"-start_number", "0",
		"-hls_segment_filename", filepath.Join(outDir, "segment_%03d.ts"),
		filepath.Join(outDir, "playlist.m3u8"),
	)
	return args
}

// Job is one running ffmpeg subprocess. The terminal edge fires exactly once
// with nil on clean exit or a TranscoderError otherwise.
type Job struct {
	SessionID domain.SessionID

	cmd    *exec.Cmd
	stdin  io.Closer
	stderr *bytes.Buffer
	logger *slog.Logger

	once   sync.Once
	onExit func(*domain.Error)
}

// Spawn starts ffmpeg with the given args. When stdin is non-nil it is wired
// to the subprocess and closed on exit (torrent live streaming); stderr is
// captured for the failure message.
func Spawn(binary string, args []string, stdin io.ReadCloser, id domain.SessionID, logger *slog.Logger, onExit func(*domain.Error)) (*Job, *domain.Error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, domain.NewError(domain.KindExternalToolMissing, "ffmpeg_missing")
	}

	cmd := exec.Command(binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = stdin
	}

	if err := cmd.Start(); err != nil {
		if stdin != nil {
			stdin.Close()
		}
		return nil, domain.NewError(domain.KindTranscoderError, "ffmpeg start: %v", err)
	}

	metrics.TranscoderStartsTotal.Inc()
	logger.Info("transcoder started", "session", string(id), "pid", cmd.Process.Pid)

	job := &Job{
		SessionID: id,
		cmd:       cmd,
		stdin:     stdin,
		stderr:    &stderr,
		logger:    logger,
		onExit:    onExit,
	}
	go job.wait()
	return job, nil
}

func (j *Job) wait() {
	err := j.cmd.Wait()
	if j.stdin != nil {
		j.stdin.Close()
	}
	j.once.Do(func() {
		if err == nil {
			j.logger.Info("transcoder finished", "session", string(j.SessionID))
			j.onExit(nil)
			return
		}
		metrics.TranscoderFailuresTotal.Inc()
		msg := strings.TrimSpace(j.stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		j.logger.Error("transcoder failed", "session", string(j.SessionID), "error", msg)
		j.onExit(domain.NewError(domain.KindTranscoderError, "%s", msg))
	})
}

// Kill terminates the subprocess. The terminal edge still fires through wait.
func (j *Job) Kill() {
	if j.cmd.Process != nil {
		_ = j.cmd.Process.Kill()
	}
}
