package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ignite/zns-dispatch/internal/config"
	"github.com/ignite/zns-dispatch/internal/dispatch"
	"github.com/ignite/zns-dispatch/internal/metrics"
	"github.com/ignite/zns-dispatch/internal/pkg/distlock"
	"github.com/ignite/zns-dispatch/internal/pkg/httputil"
	"github.com/ignite/zns-dispatch/internal/recipients"
	"github.com/ignite/zns-dispatch/internal/runstore"
	"github.com/ignite/zns-dispatch/internal/service/sending"
)

const validCSV = "phone,name\n0912345678,An\n0987654321,Binh\n"

type testEnv struct {
	handler http.Handler
	store   *runstore.Store
}

func newTestEnv(t *testing.T, send dispatch.SendFunc) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q, err := dispatch.New(dispatch.RateLimitConfig{
		RequestsPerSecond:  1000,
		BatchSize:          10,
		ConcurrentRequests: 2,
		MaxRetries:         1,
		BaseRetryDelayMs:   1,
		RequestTimeoutMs:   5000,
	}, dispatch.WithLimiter(rate.NewLimiter(rate.Inf, 1)))
	require.NoError(t, err)

	store := runstore.New(client, "test", time.Hour)
	locks := sending.LockFactoryFunc(func(key string) distlock.DistLock {
		return distlock.NewRedisLock(client, key, time.Minute)
	})
	d := sending.NewDispatcher(q, send, store, locks, time.Minute)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})

	srv := NewServer(config.ServerConfig{MaxUploadMB: 1}, Deps{
		Runs:       d,
		Store:      store,
		Opener:     &recipients.Opener{AllowLocal: true},
		Recipients: config.RecipientsConfig{CountryCode: "84", MaxRows: 100},
		OAID:       "oa-test",
		Metrics:    metrics.New(),
		Redis:      client,
	})
	return &testEnv{handler: srv.Handler(), store: store}
}

func okSend(ctx context.Context, p dispatch.Payload) (*dispatch.Response, error) {
	return &dispatch.Response{HTTPStatus: 200}, nil
}

// blockingSend holds every send until ctx ends.
func blockingSend(ctx context.Context, p dispatch.Payload) (*dispatch.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, path, csv, templateID string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "recipients.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(csv))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("template_id", templateID))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeRun(t *testing.T, rec *httptest.ResponseRecorder) runstore.Run {
	t.Helper()
	var run runstore.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	return run
}

func (e *testEnv) waitTerminal(t *testing.T, id string) *runstore.Run {
	t.Helper()
	var run *runstore.Run
	require.Eventually(t, func() bool {
		r, err := e.store.Get(context.Background(), id)
		if err != nil || !r.State.Terminal() {
			return false
		}
		run = r
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return run
}

func TestCreateRun_Multipart(t *testing.T) {
	env := newTestEnv(t, okSend)

	rec := env.do(t, multipartRequest(t, "/api/zns/runs", validCSV, "tpl-1"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	run := decodeRun(t, rec)
	assert.Equal(t, runstore.StateQueued, run.State)
	assert.Equal(t, 2, run.TotalJobs)
	assert.Equal(t, "oa-test", run.OAID)
	assert.Equal(t, "upload:recipients.csv", run.Source)

	env.waitTerminal(t, run.ID)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/zns/runs/"+run.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeRun(t, rec)
	assert.Equal(t, runstore.StateCompleted, got.State)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 2, got.Summary.Succeeded)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/zns/runs/"+run.ID+"/results", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		RunID   string                `json:"run_id"`
		Results []dispatch.SendResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, run.ID, body.RunID)
	require.Len(t, body.Results, 2)
	assert.Equal(t, 1, body.Results[0].SequenceNumber)
	assert.Equal(t, dispatch.StatusSuccess, body.Results[0].Status)
}

func TestCreateRun_JSONSource(t *testing.T) {
	env := newTestEnv(t, okSend)
	path := filepath.Join(t.TempDir(), "list.csv")
	require.NoError(t, os.WriteFile(path, []byte(validCSV), 0o600))

	rec := env.do(t, jsonRequest(http.MethodPost, "/api/zns/runs", `{"source":"`+path+`","template_id":"tpl-1"}`))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, path, decodeRun(t, rec).Source)

	rec = env.do(t, jsonRequest(http.MethodPost, "/api/zns/runs", `{"source":"`+path+`.missing","template_id":"tpl-1"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, jsonRequest(http.MethodPost, "/api/zns/runs", `{"source":"ftp://host/list.csv","template_id":"tpl-1"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, jsonRequest(http.MethodPost, "/api/zns/runs", `{"template_id":"tpl-1"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRun_InvalidRows(t *testing.T) {
	env := newTestEnv(t, okSend)

	csv := "phone,name\n0912345678,An\nnot-a-phone,Binh\n0912345678,Chi\n"
	rec := env.do(t, multipartRequest(t, "/api/zns/runs", csv, "tpl-1"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Code    string           `json:"code"`
		Details []rowErrorDetail `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_rows", body.Code)
	require.Len(t, body.Details, 2)
	assert.Equal(t, 3, body.Details[0].Row)
	assert.Equal(t, 4, body.Details[1].Row)

	// nothing was started
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/zns/runs", nil))
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())
}

func TestCreateRun_MissingTemplate(t *testing.T) {
	env := newTestEnv(t, okSend)

	rec := env.do(t, multipartRequest(t, "/api/zns/runs", validCSV, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "template id is required")
}

func TestCreateRun_ConflictAndCancel(t *testing.T) {
	env := newTestEnv(t, blockingSend)

	rec := env.do(t, multipartRequest(t, "/api/zns/runs", validCSV, "tpl-1"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	run := decodeRun(t, rec)

	rec = env.do(t, multipartRequest(t, "/api/zns/runs", validCSV, "tpl-2"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	var errBody httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	assert.Equal(t, "run_in_progress", errBody.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/zns/runs/"+run.ID+"/results", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/api/zns/runs/"+run.ID+"/cancel", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	final := env.waitTerminal(t, run.ID)
	assert.Equal(t, runstore.StateCancelled, final.State)

	require.Eventually(t, func() bool {
		rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/zns/runs/"+run.ID+"/cancel", nil))
		return rec.Code == http.StatusConflict
	}, time.Second, 10*time.Millisecond)
}

func TestRun_NotFound(t *testing.T) {
	env := newTestEnv(t, okSend)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/zns/runs/nope", nil),
		httptest.NewRequest(http.MethodGet, "/api/zns/runs/nope/results", nil),
		httptest.NewRequest(http.MethodPost, "/api/zns/runs/nope/cancel", nil),
	} {
		rec := env.do(t, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, req.URL.Path)
	}
}

func TestListRuns(t *testing.T) {
	env := newTestEnv(t, okSend)

	first := decodeRun(t, env.do(t, multipartRequest(t, "/api/zns/runs", validCSV, "tpl-1")))
	env.waitTerminal(t, first.ID)
	// the run store orders by creation time in milliseconds
	time.Sleep(5 * time.Millisecond)
	second := decodeRun(t, env.do(t, multipartRequest(t, "/api/zns/runs", validCSV, "tpl-2")))
	env.waitTerminal(t, second.ID)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/zns/runs?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []runstore.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, second.ID, body.Runs[0].ID)
}

func TestValidateRecipients(t *testing.T) {
	env := newTestEnv(t, okSend)

	rec := env.do(t, multipartRequest(t, "/api/zns/recipients/validate", validCSV, "tpl-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Valid     bool           `json:"valid"`
		TotalJobs int            `json:"total_jobs"`
		Sample    []dispatch.Job `json:"sample"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Valid)
	assert.Equal(t, 2, body.TotalJobs)
	require.Len(t, body.Sample, 2)
	assert.Equal(t, "84912345678", body.Sample[0].Payload.Recipient)
	assert.Equal(t, "An", body.Sample[0].Payload.Params["name"])

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/zns/runs", nil))
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, okSend)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "up", status.Checks["redis"].Status)
	assert.Equal(t, "0 active runs", status.Checks["dispatcher"].Message)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	hc := NewHealthChecker(client, nil)
	rec := httptest.NewRecorder()
	hc.HandleReadiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "ping failed")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, okSend)

	env.do(t, httptest.NewRequest(http.MethodGet, "/api/zns/runs/nope", nil))

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `zns_dispatch_http_requests_total{method="GET",path="/api/zns/runs/{id}",status_code="404"} 1`)
}

func TestParseLimit(t *testing.T) {
	cases := map[string]int{
		"":     20,
		"abc":  20,
		"0":    20,
		"5":    5,
		"1000": 100,
		"-3":   20,
		"100":  100,
	}
	for raw, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/?limit="+raw, nil)
		assert.Equal(t, want, parseLimit(r, defaultListLimit, maxListLimit), raw)
	}
}

func TestDetermineOverallStatus(t *testing.T) {
	assert.Equal(t, "healthy", determineOverallStatus(map[string]ComponentCheck{
		"redis": {Status: "up"}, "dispatcher": {Status: "up"},
	}))
	assert.Equal(t, "unhealthy", determineOverallStatus(map[string]ComponentCheck{
		"redis": {Status: "down", Message: "ping failed"},
	}))
	assert.Equal(t, "degraded", determineOverallStatus(map[string]ComponentCheck{
		"redis": {Status: "degraded"},
	}))
	assert.Equal(t, "healthy", determineOverallStatus(map[string]ComponentCheck{
		"redis": {Status: "down", Message: "not configured"},
	}))
}
