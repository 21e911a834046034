package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mediaforge/internal/adapter/repo"
	"mediaforge/internal/domain"
	"mediaforge/internal/engine"
	"mediaforge/internal/http/handlers"
	"mediaforge/internal/http/httpapi"
	"mediaforge/internal/probecache"
	"mediaforge/internal/queue"
	"mediaforge/internal/storage"
)

type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, job *domain.Job) (string, []domain.Artifact, error) {
	return "", nil, nil
}

type testApp struct {
	store   *repo.MemoryStore
	files   *storage.FileStore
	cache   *probecache.Cache
	handler http.Handler
}

// newTestApp wires the full router against an in-memory store. The queue is
// never started, so submitted jobs stay pending unless a test moves them.
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	store := repo.NewMemoryStore()
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	cache := probecache.New(time.Minute)
	eng := engine.New(engine.Config{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe", TmpDir: t.TempDir()}, zerolog.Nop())
	q := queue.New(store, noopExecutor{}, 1, 4, zerolog.Nop())

	app := handlers.NewApp(store, q, files, cache, eng, zerolog.Nop())
	handler := httpapi.NewRouter(app, httpapi.Options{Logger: zerolog.Nop()})
	return &testApp{store: store, files: files, cache: cache, handler: handler}
}

func (a *testApp) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestSubmitJobAccepted(t *testing.T) {
	app := newTestApp(t)

	rr := app.do(t, "POST", "/v1/jobs", `{"input":"https://example.com/clip.mp4","operation":"transcode","params":{"container":"webm"}}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rr.Code, rr.Body)
	}

	payload := decodeBody(t, rr)
	jobID, _ := payload["job_id"].(string)
	if jobID == "" {
		t.Fatalf("missing job_id: %v", payload)
	}
	if payload["status"] != "pending" {
		t.Fatalf("status = %v, want pending", payload["status"])
	}

	job, err := app.store.GetByID(context.Background(), jobID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if job.Params["container"] != "webm" {
		t.Fatalf("params = %v", job.Params)
	}
}

func TestSubmitJobValidation(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"input":`},
		{"missing input", `{"operation":"probe"}`},
		{"unknown operation", `{"input":"in.mp4","operation":"concat"}`},
		{"bad parameter", `{"input":"in.mp4","operation":"transcode","params":{"container":"avi"}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := app.do(t, "POST", "/v1/jobs", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", rr.Code, rr.Body)
			}
			if payload := decodeBody(t, rr); payload["error"] != "invalid_input" {
				t.Fatalf("error = %v, want invalid_input", payload["error"])
			}
		})
	}
}

func TestSubmitJobOverCapacity(t *testing.T) {
	app := newTestApp(t)

	// queue capacity is 4 and no worker drains it
	for i := 0; i < 4; i++ {
		rr := app.do(t, "POST", "/v1/jobs", `{"input":"in.mp4","operation":"probe"}`)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("submit %d: status = %d", i, rr.Code)
		}
	}

	rr := app.do(t, "POST", "/v1/jobs", `{"input":"in.mp4","operation":"probe"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429: %s", rr.Code, rr.Body)
	}
	if payload := decodeBody(t, rr); payload["error"] != "resource_exhausted" {
		t.Fatalf("error = %v, want resource_exhausted", payload["error"])
	}
}

func TestJobStatusLifecycle(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	rr := app.do(t, "POST", "/v1/jobs", `{"input":"in.mp4","operation":"thumbnail"}`)
	jobID := decodeBody(t, rr)["job_id"].(string)

	rr = app.do(t, "GET", "/v1/jobs/"+jobID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	payload := decodeBody(t, rr)
	if payload["status"] != "pending" || payload["operation"] != "thumbnail" {
		t.Fatalf("payload = %v", payload)
	}
	if payload["operation_label"] != "Thumbnail" {
		t.Fatalf("operation_label = %v", payload["operation_label"])
	}

	if _, err := app.store.ClaimNextPending(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	rr = app.do(t, "GET", "/v1/jobs/"+jobID, "")
	if payload := decodeBody(t, rr); payload["status"] != "running" {
		t.Fatalf("status = %v, want running", payload["status"])
	}

	rr = app.do(t, "GET", "/v1/jobs/does-not-exist", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing job: status = %d, want 404", rr.Code)
	}
}

func TestJobResult(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	rr := app.do(t, "POST", "/v1/jobs", `{"input":"in.mp4","operation":"transcode"}`)
	jobID := decodeBody(t, rr)["job_id"].(string)

	// still pending
	rr = app.do(t, "GET", "/v1/jobs/"+jobID+"/result", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("pending result: status = %d, want 409", rr.Code)
	}

	if _, err := app.store.ClaimNextPending(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	artifacts := []domain.Artifact{
		{JobID: jobID, Name: "output.mp4", MIME: "video/mp4", Bytes: 2048, CreatedAt: time.Now().UTC()},
	}
	if err := app.store.MarkSucceeded(ctx, jobID, jobID+"/output.mp4", artifacts); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	rr = app.do(t, "GET", "/v1/jobs/"+jobID+"/result", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("result: status = %d: %s", rr.Code, rr.Body)
	}
	payload := decodeBody(t, rr)
	if payload["output_ref"] != jobID+"/output.mp4" {
		t.Fatalf("output_ref = %v", payload["output_ref"])
	}
	items, _ := payload["artifacts"].([]any)
	if len(items) != 1 {
		t.Fatalf("artifacts = %v", payload["artifacts"])
	}
	item := items[0].(map[string]any)
	if item["url"] != "/v1/jobs/"+jobID+"/artifacts/output.mp4" {
		t.Fatalf("artifact url = %v", item["url"])
	}
}

func TestJobResultFailed(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	rr := app.do(t, "POST", "/v1/jobs", `{"input":"in.mp4","operation":"transcode"}`)
	jobID := decodeBody(t, rr)["job_id"].(string)
	if _, err := app.store.ClaimNextPending(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := app.store.MarkFailed(ctx, jobID, domain.ErrorCodeTimeout, "ffmpeg exceeded 10m"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	rr = app.do(t, "GET", "/v1/jobs/"+jobID+"/result", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	payload := decodeBody(t, rr)
	errDoc, _ := payload["error"].(map[string]any)
	if errDoc["code"] != "timeout" || errDoc["message"] == "" {
		t.Fatalf("error = %v", payload["error"])
	}
}

func TestCancelJob(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	rr := app.do(t, "POST", "/v1/jobs", `{"input":"in.mp4","operation":"probe"}`)
	jobID := decodeBody(t, rr)["job_id"].(string)

	rr = app.do(t, "DELETE", "/v1/jobs/"+jobID, "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("cancel: status = %d: %s", rr.Code, rr.Body)
	}

	job, err := app.store.GetByID(ctx, jobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != domain.JobStatusFailed || job.ErrorCode != domain.ErrorCodeCancelled {
		t.Fatalf("cancelled job = %+v", job)
	}

	// cancelling a terminal job conflicts
	rr = app.do(t, "DELETE", "/v1/jobs/"+jobID, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("re-cancel: status = %d, want 409", rr.Code)
	}

	rr = app.do(t, "DELETE", "/v1/jobs/does-not-exist", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("cancel missing: status = %d, want 404", rr.Code)
	}
}

func TestListJobs(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rr := app.do(t, "POST", "/v1/jobs", `{"input":"in.mp4","operation":"probe"}`)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("submit %d: status = %d", i, rr.Code)
		}
	}
	if _, err := app.store.ClaimNextPending(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	rr := app.do(t, "GET", "/v1/jobs?status=pending", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rr.Code)
	}
	items, _ := decodeBody(t, rr)["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("pending items = %d, want 2", len(items))
	}

	rr = app.do(t, "GET", "/v1/jobs?status=bogus", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter: status = %d, want 400", rr.Code)
	}

	rr = app.do(t, "GET", "/v1/jobs?limit=1", "")
	items, _ = decodeBody(t, rr)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("limited items = %d, want 1", len(items))
	}
}
