package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loomery/backlog/api"
	"github.com/loomery/backlog/cron"
	"github.com/loomery/backlog/job"
	"github.com/loomery/backlog/queue"
	"github.com/loomery/backlog/store/memory"
)

func apiRegistry() *job.Registry {
	return job.NewRegistry(
		job.Type{
			Name: "thumbnail.create",
			Schema: job.Schema{
				Required: []string{"assetId"},
				Fields:   map[string]job.Kind{"assetId": job.KindString},
			},
			Policy: job.Policy{MaxAttempts: 3, LeaseDuration: 30 * time.Second},
		},
	)
}

func newTestServer(t *testing.T, opts ...api.Option) (*httptest.Server, *queue.Service) {
	t.Helper()
	svc := queue.New(apiRegistry(), memory.New())
	srv := httptest.NewServer(api.New(svc, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv, svc
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, out.Bytes()
}

func TestEnqueueRoute(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/jobs", api.EnqueueRequest{
		Type:    "thumbnail.create",
		Payload: map[string]any{"assetId": "asset_1"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}

	var created job.Job
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != job.StatusQueued {
		t.Errorf("status = %q, want queued", created.Status)
	}
	if created.ID.IsNil() {
		t.Error("expected a job ID")
	}
}

func TestEnqueueRoute_UnknownType(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/jobs", api.EnqueueRequest{
		Type:    "never.registered",
		Payload: map[string]any{},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestEnqueueRoute_ValidationViolations(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/jobs", api.EnqueueRequest{
		Type:    "thumbnail.create",
		Payload: map[string]any{"assetId": 42},
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body %s", resp.StatusCode, body)
	}

	var errResp struct {
		Error      string   `json:"error"`
		Violations []string `json:"violations"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(errResp.Violations) == 0 {
		t.Error("expected violations in response")
	}
}

func TestGetJobRoute(t *testing.T) {
	srv, svc := newTestServer(t)

	j, err := svc.Enqueue(context.Background(), "thumbnail.create", map[string]any{"assetId": "a"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/jobs/"+j.ID.String(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/jobs/not-a-valid-id", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid id status = %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/jobs/job_00000000000000000000000000", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing job status = %d, want 404", resp.StatusCode)
	}
}

func TestLeaseAndReportRoutes(t *testing.T) {
	srv, svc := newTestServer(t)

	j, err := svc.Enqueue(context.Background(), "thumbnail.create", map[string]any{"assetId": "a"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/lease", api.LeaseRequest{
		WorkerID: "wkr_a",
		Limit:    5,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lease status = %d, body %s", resp.StatusCode, body)
	}
	var leased []*job.Job
	if err := json.Unmarshal(body, &leased); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(leased) != 1 || leased[0].Attempt != 1 {
		t.Fatalf("leased = %v", leased)
	}

	// Success by the lease holder.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/v1/jobs/"+j.ID.String()+"/success", api.SuccessRequest{
		WorkerID: "wkr_a",
		Result:   map[string]any{"thumbKey": "thumbs/a.png"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("success status = %d, body %s", resp.StatusCode, body)
	}

	// Duplicate report conflicts.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/jobs/"+j.ID.String()+"/success", api.SuccessRequest{
		WorkerID: "wkr_a",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate report status = %d, want 409", resp.StatusCode)
	}
}

func TestFailureRoute_SchedulesRetry(t *testing.T) {
	srv, svc := newTestServer(t)

	j, err := svc.Enqueue(context.Background(), "thumbnail.create", map[string]any{"assetId": "a"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := svc.Lease(context.Background(), "wkr_a"); err != nil {
		t.Fatalf("lease: %v", err)
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/jobs/"+j.ID.String()+"/failure", api.FailureRequest{
		WorkerID: "wkr_a",
		Error:    "resize failed",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("failure status = %d, body %s", resp.StatusCode, body)
	}
	var failed job.Job
	if err := json.Unmarshal(body, &failed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if failed.Status != job.StatusQueued {
		t.Errorf("status = %q, want queued", failed.Status)
	}
	if failed.LastError != "resize failed" {
		t.Errorf("lastError = %q", failed.LastError)
	}
}

func TestLeaseRoute_RequiresWorkerID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/lease", api.LeaseRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListAndCountRoutes(t *testing.T) {
	srv, svc := newTestServer(t)

	for i := 0; i < 3; i++ {
		if _, err := svc.Enqueue(context.Background(), "thumbnail.create",
			map[string]any{"assetId": fmt.Sprintf("asset_%d", i)}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/jobs?status=queued", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var jobs []*job.Job
	if err := json.Unmarshal(body, &jobs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(jobs) != 3 {
		t.Errorf("listed %d jobs, want 3", len(jobs))
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/v1/jobs/counts", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("counts status = %d", resp.StatusCode)
	}
	var counts api.JobCountsResponse
	if err := json.Unmarshal(body, &counts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if counts.Queued != 3 {
		t.Errorf("queued = %d, want 3", counts.Queued)
	}
}

func TestDLQRoute(t *testing.T) {
	srv, svc := newTestServer(t)
	ctx := context.Background()

	j, err := svc.Enqueue(ctx, "thumbnail.create", map[string]any{"assetId": "a"}, job.WithMaxAttempts(1))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := svc.Lease(ctx, "wkr_a"); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if _, err := svc.ReportFailure(ctx, j.ID, "wkr_a", "fatal"); err != nil {
		t.Fatalf("report failure: %v", err)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/dlq", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dlq status = %d", resp.StatusCode)
	}
	var dead []*job.Job
	if err := json.Unmarshal(body, &dead); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(dead) != 1 || dead[0].Status != job.StatusDLQ {
		t.Fatalf("dlq list = %v", dead)
	}
}

func TestStatsRoute(t *testing.T) {
	srv, svc := newTestServer(t)

	if _, err := svc.Enqueue(context.Background(), "thumbnail.create", map[string]any{"assetId": "a"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	var stats api.StatsResponse
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Total.Queued != 1 || stats.Backlog != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if _, ok := stats.ByType["thumbnail.create"]; !ok {
		t.Error("expected per-type stats for thumbnail.create")
	}
}

func TestHealthzRoute(t *testing.T) {
	srv, _ := newTestServer(t, api.WithHealthCheck(func(context.Context) error { return nil }))

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/v1/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}

func TestSchedulesRoute(t *testing.T) {
	sched := cron.NewScheduler(func(ctx context.Context, typeName string, payload map[string]any, opts ...job.Option) (*job.Job, error) {
		return nil, nil
	}, nil)
	if err := sched.AddJob("snap", "@every 1h", "audit.snapshot", nil); err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	srv, _ := newTestServer(t, api.WithScheduler(sched))

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/schedules", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("schedules status = %d", resp.StatusCode)
	}
	var entries []cron.EntryInfo
	if err := json.Unmarshal(body, &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "snap" {
		t.Fatalf("entries = %v", entries)
	}
}
