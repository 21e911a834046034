// Package engine wraps the external media tools (ffmpeg/ffprobe) as
// isolated, cancellable invocations. Each run owns a per-job scratch
// directory that is removed on every exit path; successful outputs are
// handed to a Publisher before the scratch space goes away.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mediaforge/internal/domain"
)

const maxCapturedOutput = 8 * 1024

// Publisher moves a finished output file into durable artifact storage.
type Publisher interface {
	Publish(ctx context.Context, key, srcPath string) (string, int64, error)
}

// Config carries the process-wide engine settings. Modeled as an explicit
// object handed in at construction, never ambient state.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	TmpDir      string
	Timeout     time.Duration
}

// Result reports one successful job execution.
type Result struct {
	OutputRef string
	Artifacts []domain.Artifact
	ProbeJSON []byte // set only for probe jobs
	Attempts  int
}

// DependencyReport describes which external tools are resolvable.
type DependencyReport struct {
	FFmpegFound  bool   `json:"ffmpeg_found"`
	FFmpegPath   string `json:"ffmpeg_path,omitempty"`
	FFprobeFound bool   `json:"ffprobe_found"`
	FFprobePath  string `json:"ffprobe_path,omitempty"`
}

// Engine executes media operations through external subprocesses.
type Engine struct {
	cfg    Config
	logger zerolog.Logger
}

// New constructs an Engine.
func New(cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger.With().Str("component", "engine").Logger()}
}

// Dependencies resolves the configured tool paths via PATH lookup.
func (e *Engine) Dependencies() DependencyReport {
	report := DependencyReport{}
	if path, err := exec.LookPath(e.cfg.FFmpegPath); err == nil {
		report.FFmpegFound = true
		report.FFmpegPath = path
	}
	if path, err := exec.LookPath(e.cfg.FFprobePath); err == nil {
		report.FFprobeFound = true
		report.FFprobePath = path
	}
	return report
}

// Run executes the job's operation. At most one invocation is active per
// job; a transient tool failure is retried exactly once. Invalid input,
// timeout and cancellation are surfaced immediately.
func (e *Engine) Run(ctx context.Context, job *domain.Job, pub Publisher) (*Result, error) {
	scratchDir := filepath.Join(e.cfg.TmpDir, job.ID)
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create scratch dir: %v", domain.ErrResourceExhausted, err)
	}
	defer os.RemoveAll(scratchDir)

	p, err := e.buildPlan(job, scratchDir)
	if err != nil {
		return nil, err
	}

	attempts := 0
	var stdout string
	for {
		attempts++
		stdout, err = e.invoke(ctx, p, job.ID)
		if err == nil {
			break
		}
		if attempts >= 2 || !retryable(err) {
			return nil, err
		}
		e.logger.Warn().Str("job_id", job.ID).Err(err).Msg("transient engine failure, retrying once")
	}

	result := &Result{Attempts: attempts}
	if p.captureJSON {
		jsonPath := filepath.Join(scratchDir, p.outputs[0].name)
		if err := os.WriteFile(jsonPath, []byte(stdout), 0o644); err != nil {
			return nil, fmt.Errorf("write probe output: %w", err)
		}
		result.ProbeJSON = []byte(stdout)
	}

	now := time.Now().UTC()
	for _, out := range p.outputs {
		srcPath := filepath.Join(scratchDir, out.name)
		info, statErr := os.Stat(srcPath)
		if statErr != nil || info.Size() == 0 {
			return nil, fmt.Errorf("%w: tool exited cleanly but produced no %s", domain.ErrEngineFailure, out.name)
		}
		key, size, pubErr := pub.Publish(ctx, job.ID+"/"+out.name, srcPath)
		if pubErr != nil {
			return nil, fmt.Errorf("publish %s: %w", out.name, pubErr)
		}
		result.Artifacts = append(result.Artifacts, domain.Artifact{
			JobID:     job.ID,
			Name:      out.name,
			MIME:      out.mime,
			Bytes:     size,
			CreatedAt: now,
		})
		if result.OutputRef == "" {
			result.OutputRef = key
		}
	}
	return result, nil
}

// invoke runs one subprocess under the configured timeout, returning its
// captured stdout on success and a classified error otherwise.
func (e *Engine) invoke(ctx context.Context, p *plan, jobID string) (string, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, p.tool, p.args...)
	cmd.WaitDelay = 5 * time.Second

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("setup stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: start %s: %v", domain.ErrEngineFailure, p.tool, err)
	}
	e.logger.Debug().Str("job_id", jobID).Str("tool", p.tool).Strs("args", p.args).Msg("invocation started")

	var outBuf, errBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go capture(&wg, stdoutPipe, &outBuf, p.captureJSON)
	go capture(&wg, stderrPipe, &errBuf, false)
	wg.Wait()

	waitErr := cmd.Wait()
	elapsed := time.Since(start)
	if waitErr == nil {
		e.logger.Debug().Str("job_id", jobID).Dur("elapsed", elapsed).Msg("invocation finished")
		return outBuf.String(), nil
	}

	stderr := strings.TrimSpace(errBuf.String())
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return "", fmt.Errorf("%w: %s exceeded %s", domain.ErrTimeout, p.tool, e.cfg.Timeout)
	case errors.Is(ctx.Err(), context.Canceled):
		return "", fmt.Errorf("%w: invocation terminated", domain.ErrCancelled)
	case isMalformedInput(stderr):
		return "", fmt.Errorf("%w: %s", domain.ErrInvalidInput, firstLine(stderr))
	default:
		return "", fmt.Errorf("%w: %s: %v: %s", domain.ErrEngineFailure, p.tool, waitErr, firstLine(stderr))
	}
}

// capture drains a pipe into the builder. Stderr and plain stdout are
// bounded; probe stdout keeps the whole JSON document.
func capture(wg *sync.WaitGroup, r io.Reader, buf *strings.Builder, unbounded bool) {
	defer wg.Done()
	if unbounded {
		_, _ = io.Copy(buf, io.LimitReader(r, 4*1024*1024))
		// drain the rest so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, r)
		return
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if buf.Len() >= maxCapturedOutput {
			continue
		}
		line := scanner.Text() + "\n"
		if remain := maxCapturedOutput - buf.Len(); len(line) > remain {
			line = line[:remain]
		}
		buf.WriteString(line)
	}
}

var malformedMarkers = []string{
	"invalid argument",
	"invalid data found when processing input",
	"no such file or directory",
	"unknown encoder",
	"unknown decoder",
	"protocol not found",
	"does not contain any stream",
	"moov atom not found",
	"option not found",
}

func isMalformedInput(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, marker := range malformedMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// retryable reports whether a failed invocation is worth one more attempt.
// Malformed input never is; a killed invocation (timeout/cancel) already
// consumed its slot time and is surfaced as terminal.
func retryable(err error) bool {
	return errors.Is(err, domain.ErrEngineFailure)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
