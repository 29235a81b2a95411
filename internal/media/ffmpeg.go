// Package media drives the ffmpeg binary that renders segment audio and video.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const stderrTailBytes = 2048

// Encoder runs one ffmpeg invocation.
type Encoder interface {
	Run(ctx context.Context, args ...string) error
}

// EncodeError reports a failed ffmpeg run with the end of its stderr.
type EncodeError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *EncodeError) Error() string {
	msg := fmt.Sprintf("ffmpeg exited with code %d", e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *EncodeError) Unwrap() error { return e.Err }

// FFmpeg executes the ffmpeg binary found at path.
type FFmpeg struct {
	path   string
	logger *slog.Logger
}

func NewFFmpeg(path string, logger *slog.Logger) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{path: path, logger: logger}
}

// Run invokes ffmpeg non-interactively, overwriting outputs.
func (f *FFmpeg) Run(ctx context.Context, args ...string) error {
	full := append([]string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y"}, args...)
	cmd := exec.CommandContext(ctx, f.path, full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err == nil {
		f.logger.Debug("ffmpeg finished", "duration_ms", time.Since(start).Milliseconds())
		return nil
	}

	encErr := &EncodeError{Args: args, ExitCode: -1, Stderr: tail(stderr.String()), Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		encErr.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		encErr.Err = ctxErr
	}
	f.logger.Warn("ffmpeg failed", "exit_code", encErr.ExitCode, "stderr", encErr.Stderr, "error", err)
	return encErr
}

// Available checks that the binary can be executed.
func (f *FFmpeg) Available(ctx context.Context) error {
	if _, err := exec.LookPath(f.path); err != nil {
		return fmt.Errorf("ffmpeg not found at %q: %w", f.path, err)
	}
	return exec.CommandContext(ctx, f.path, "-version").Run()
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTailBytes {
		s = s[len(s)-stderrTailBytes:]
	}
	return s
}
