package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mediaforge/internal/domain"
	"mediaforge/internal/storage"
)

// writeFakeTool installs an executable shell script standing in for ffmpeg
// or ffprobe.
func writeFakeTool(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake tool: %v", err)
	}
	return path
}

func newTestEngine(t *testing.T, ffmpeg, ffprobe string, timeout time.Duration) (*Engine, *storage.FileStore) {
	t.Helper()
	files, err := storage.NewFileStore(filepath.Join(t.TempDir(), "artifacts"))
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	eng := New(Config{
		FFmpegPath:  ffmpeg,
		FFprobePath: ffprobe,
		TmpDir:      t.TempDir(),
		Timeout:     timeout,
	}, zerolog.Nop())
	return eng, files
}

func transcodeJob(id string) *domain.Job {
	return &domain.Job{
		ID:        id,
		Input:     "input.mp4",
		Operation: domain.OpTranscode,
		Params:    map[string]string{"container": "mp4"},
	}
}

func TestRunSuccessPublishesArtifacts(t *testing.T) {
	dir := t.TempDir()
	// write non-empty data to the planned output (the last argument)
	ffmpeg := writeFakeTool(t, dir, "ffmpeg", `for last in "$@"; do :; done
echo "frame data" > "$last"
`)
	eng, files := newTestEngine(t, ffmpeg, "ffprobe", 5*time.Second)

	result, err := eng.Run(context.Background(), transcodeJob("job-ok"), files)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", result.Attempts)
	}
	if result.OutputRef != "job-ok/output.mp4" {
		t.Fatalf("output_ref = %q", result.OutputRef)
	}
	if len(result.Artifacts) != 1 || result.Artifacts[0].Name != "output.mp4" || result.Artifacts[0].Bytes == 0 {
		t.Fatalf("artifacts = %+v", result.Artifacts)
	}

	published, err := files.Path("job-ok/output.mp4")
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if _, err := os.Stat(published); err != nil {
		t.Fatalf("published artifact missing: %v", err)
	}
}

func TestRunScratchDirIsRemoved(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := writeFakeTool(t, dir, "ffmpeg", `for last in "$@"; do :; done
echo data > "$last"
`)
	broken := writeFakeTool(t, dir, "ffmpeg-broken", `echo "boom" >&2
exit 1
`)

	for name, tool := range map[string]string{"success": ffmpeg, "failure": broken} {
		t.Run(name, func(t *testing.T) {
			eng, files := newTestEngine(t, tool, "ffprobe", 5*time.Second)
			_, _ = eng.Run(context.Background(), transcodeJob("job-scratch"), files)

			scratch := filepath.Join(eng.cfg.TmpDir, "job-scratch")
			if _, err := os.Stat(scratch); !os.IsNotExist(err) {
				t.Fatalf("scratch dir survived the run: %v", err)
			}
		})
	}
}

func TestRunRetriesTransientFailureOnce(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "second-attempt")
	// first call fails with a generic error, second succeeds
	ffmpeg := writeFakeTool(t, dir, "ffmpeg", `if [ ! -f `+marker+` ]; then
  touch `+marker+`
  echo "Connection reset by peer" >&2
  exit 1
fi
for last in "$@"; do :; done
echo data > "$last"
`)
	eng, files := newTestEngine(t, ffmpeg, "ffprobe", 5*time.Second)

	result, err := eng.Run(context.Background(), transcodeJob("job-retry"), files)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", result.Attempts)
	}
}

func TestRunDoesNotRetryInvalidInput(t *testing.T) {
	dir := t.TempDir()
	counter := filepath.Join(dir, "invocations")
	ffmpeg := writeFakeTool(t, dir, "ffmpeg", `echo x >> `+counter+`
echo "input.mp4: Invalid data found when processing input" >&2
exit 1
`)
	eng, files := newTestEngine(t, ffmpeg, "ffprobe", 5*time.Second)

	_, err := eng.Run(context.Background(), transcodeJob("job-bad"), files)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}

	data, readErr := os.ReadFile(counter)
	if readErr != nil {
		t.Fatalf("read counter: %v", readErr)
	}
	if got := len(data) / 2; got != 1 { // one "x\n" per invocation
		t.Fatalf("tool invoked %d times, want 1", got)
	}
}

func TestRunGenericFailureStopsAfterSecondAttempt(t *testing.T) {
	dir := t.TempDir()
	counter := filepath.Join(dir, "invocations")
	ffmpeg := writeFakeTool(t, dir, "ffmpeg", `echo x >> `+counter+`
echo "something went sideways" >&2
exit 1
`)
	eng, files := newTestEngine(t, ffmpeg, "ffprobe", 5*time.Second)

	_, err := eng.Run(context.Background(), transcodeJob("job-flaky"), files)
	if !errors.Is(err, domain.ErrEngineFailure) {
		t.Fatalf("err = %v, want ErrEngineFailure", err)
	}

	data, readErr := os.ReadFile(counter)
	if readErr != nil {
		t.Fatalf("read counter: %v", readErr)
	}
	if got := len(data) / 2; got != 2 {
		t.Fatalf("tool invoked %d times, want 2", got)
	}
}

func TestRunTimeoutKillsInvocation(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := writeFakeTool(t, dir, "ffmpeg", "sleep 10\n")
	eng, files := newTestEngine(t, ffmpeg, "ffprobe", 300*time.Millisecond)

	start := time.Now()
	_, err := eng.Run(context.Background(), transcodeJob("job-slow"), files)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 8*time.Second {
		t.Fatalf("invocation was not killed promptly, took %s", elapsed)
	}
}

func TestRunCancellation(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := writeFakeTool(t, dir, "ffmpeg", "sleep 10\n")
	eng, files := newTestEngine(t, ffmpeg, "ffprobe", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	_, err := eng.Run(ctx, transcodeJob("job-cancelled"), files)
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

func TestRunEmptyOutputIsEngineFailure(t *testing.T) {
	dir := t.TempDir()
	// exits cleanly but writes nothing
	ffmpeg := writeFakeTool(t, dir, "ffmpeg", "exit 0\n")
	eng, files := newTestEngine(t, ffmpeg, "ffprobe", 5*time.Second)

	_, err := eng.Run(context.Background(), transcodeJob("job-empty"), files)
	if !errors.Is(err, domain.ErrEngineFailure) {
		t.Fatalf("err = %v, want ErrEngineFailure", err)
	}
}

func TestRunProbeCapturesJSON(t *testing.T) {
	dir := t.TempDir()
	ffprobe := writeFakeTool(t, dir, "ffprobe", `printf '{"format":{"duration":"12.0"},"streams":[{"codec_type":"video"}]}'
`)
	eng, files := newTestEngine(t, "ffmpeg", ffprobe, 5*time.Second)

	job := &domain.Job{ID: "job-probe", Input: "input.mp4", Operation: domain.OpProbe}
	result, err := eng.Run(context.Background(), job, files)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.ProbeJSON) == 0 {
		t.Fatal("probe json not captured")
	}
	if len(result.Artifacts) != 1 || result.Artifacts[0].Name != "probe.json" {
		t.Fatalf("artifacts = %+v", result.Artifacts)
	}
	published, err := files.Path("job-probe/probe.json")
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if _, err := os.Stat(published); err != nil {
		t.Fatalf("probe artifact missing: %v", err)
	}
}
