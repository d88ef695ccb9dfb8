package api

import (
	"bufio"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"mailsync/internal/app"
	"mailsync/internal/config"
	"mailsync/internal/events"
	"mailsync/internal/job"
	"mailsync/internal/mailbox/mailboxtest"
	"mailsync/internal/metrics"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	src     *mailboxtest.Server
	dst     *mailboxtest.Server
	syncer  *app.Syncer
	metrics *metrics.Collector
	api     *API
	server  *httptest.Server
}

func newTestEnv(t *testing.T, tweak func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Engine.RetryDelayMs = 0
	cfg.Engine.PollIntervalMs = 5
	cfg.Engine.PopWaitMs = 20
	if tweak != nil {
		tweak(cfg)
	}

	e := &testEnv{
		src:     mailboxtest.NewServer(),
		dst:     mailboxtest.NewServer(),
		metrics: metrics.New(),
	}
	dialer := mailboxtest.Dialer{"src": e.src, "dst": e.dst}
	e.syncer = app.New(cfg, dialer, job.NewRegistry(), e.metrics, zap.NewNop())
	e.api = New(cfg, e.syncer, e.metrics, zap.NewNop())
	e.server = httptest.NewServer(e.api.Handler())
	t.Cleanup(e.server.Close)
	return e
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func readEvents(t *testing.T, resp *http.Response) []events.Event {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	var evs []events.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		require.True(t, strings.HasPrefix(line, "data: "), "unexpected line %q", line)
		var e events.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
		evs = append(evs, e)
	}
	require.NoError(t, scanner.Err())
	return evs
}

const liveBody = `{
	"sync_id": "s1",
	"src_host": "src", "src_port": "993", "src_user": "u", "src_pass": "p", "src_secure": "true",
	"dest_host": "dst", "dest_port": 993, "dest_user": "u", "dest_pass": "p", "dest_secure": true,
	"concurrency": "2",
	"exclude_folders": "Junk, Drafts"
}`

func TestSyncStreamsEvents(t *testing.T) {
	e := newTestEnv(t, nil)
	e.src.AddMessages("INBOX", 1, 2)
	e.src.AddMessages("Junk", 3)

	resp := e.post(t, "/api/sync", liveBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "s1", resp.Header.Get("X-Sync-Id"))

	evs := readEvents(t, resp)
	require.NotEmpty(t, evs)
	assert.Equal(t, "Starting process...", evs[0].Message)
	require.NotNil(t, evs[0].Progress)
	assert.Equal(t, 0, *evs[0].Progress)

	last := evs[len(evs)-1]
	assert.Equal(t, "Sync completed!", last.Message)
	require.NotNil(t, last.Progress)
	assert.Equal(t, 100, *last.Progress)
	assert.Len(t, e.dst.Appended(), 2)

	stats := readBody(t, e.get(t, "/api/stats"))
	assert.Contains(t, stats, `"totalEmails":2`)

	resp = e.post(t, "/api/stats/reset", "")
	assert.JSONEq(t, `{"success":true}`, readBody(t, resp))
	assert.JSONEq(t, `{"totalEmails":0,"totalBytes":0}`, readBody(t, e.get(t, "/api/stats")))
}

func TestSyncEventWireFormat(t *testing.T) {
	e := newTestEnv(t, nil)
	e.src.AddMessages("INBOX", 1)

	resp := e.post(t, "/api/sync", `{"sync_id":"wire","src_host":"src","src_user":"u","src_pass":"p","dry_run":true}`)
	body := readBody(t, resp)

	assert.True(t, strings.HasPrefix(body, `data: {"message":"Starting process...","progress":0}`+"\n\n"), body)
	assert.Contains(t, body, `data: {"message":"Connecting to source..."}`+"\n\n")
	assert.Contains(t, body, `data: {"message":"[DRY] Would sync INBOX:1","progress":100}`+"\n\n")
	assert.NotContains(t, body, "increment")
}

func TestSyncGeneratesID(t *testing.T) {
	e := newTestEnv(t, nil)
	e.src.AddMessages("INBOX", 1)

	resp := e.post(t, "/api/sync", `{"src_host":"src","src_user":"u","src_pass":"p","dry_run":"true"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err := uuid.Parse(resp.Header.Get("X-Sync-Id"))
	assert.NoError(t, err)

	evs := readEvents(t, resp)
	assert.Equal(t, "Sync completed!", evs[len(evs)-1].Message)
	assert.Empty(t, e.dst.Appended())
	assert.Zero(t, e.dst.Dials())
}

func TestSyncRejectsBadInput(t *testing.T) {
	e := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"sync_id":`},
		{"bad since date", `{"src_host":"src","src_user":"u","src_pass":"p","dry_run":true,"since_date":"2024-01-01"}`},
		{"missing source host", `{"src_user":"u","src_pass":"p","dry_run":true}`},
		{"missing destination", `{"src_host":"src","src_user":"u","src_pass":"p"}`},
		{"non numeric concurrency", `{"src_host":"src","src_user":"u","src_pass":"p","dry_run":true,"concurrency":"many"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.post(t, "/api/sync", tt.body)
			body := readBody(t, resp)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
			assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
		})
	}
	assert.Zero(t, e.src.Dials())
}

func TestSyncStopAndStatus(t *testing.T) {
	e := newTestEnv(t, nil)
	e.src.AddMessages("INBOX", 1, 2, 3, 4)

	inFetch := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	e.src.FetchHook = func(string, uint32) {
		once.Do(func() {
			close(inFetch)
			<-release
		})
	}

	streamed := make(chan []events.Event, 1)
	go func() {
		resp, err := http.Post(e.server.URL+"/api/sync", "application/json", strings.NewReader(
			`{"sync_id":"job-1","src_host":"src","src_user":"u","src_pass":"p","dest_host":"dst","dest_user":"u","dest_pass":"p"}`))
		if err != nil {
			streamed <- nil
			return
		}
		streamed <- readEvents(t, resp)
	}()

	select {
	case <-inFetch:
	case <-time.After(5 * time.Second):
		t.Fatal("sync never reached the first fetch")
	}

	resp := e.get(t, "/api/status/job-1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"running","active":true}`, readBody(t, resp))

	resp = e.post(t, "/api/sync", `{"sync_id":"job-1","src_host":"src","src_user":"u","src_pass":"p","dry_run":true}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	resp = e.post(t, "/api/stop", `{"sync_id":"job-1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"success"}`, readBody(t, resp))
	close(release)

	evs := <-streamed
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, "Stopped by user.", last.Message)
	assert.True(t, last.IsError)
	assert.Empty(t, e.dst.Appended())

	resp = e.get(t, "/api/status/job-1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	resp = e.post(t, "/api/stop", `{"sync_id":"job-1"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"status":"error","message":"Job not found"}`, readBody(t, resp))
}

func TestTestConnection(t *testing.T) {
	e := newTestEnv(t, nil)

	resp := e.post(t, "/api/test-connection", `{"host":"src","user":"u"}`)
	assert.JSONEq(t, `{"success":false,"error":"Missing Host, User or Password"}`, readBody(t, resp))

	resp = e.post(t, "/api/test-connection", `{"host":"src","port":"993","user":"u","pass":"p","secure":"true"}`)
	assert.JSONEq(t, `{"success":true}`, readBody(t, resp))
	assert.Equal(t, 1, e.src.Logouts())

	e.src.DialErr = errors.New("invalid credentials")
	resp = e.post(t, "/api/test-connection", `{"host":"src","user":"u","pass":"bad"}`)
	assert.JSONEq(t, `{"success":false,"error":"invalid credentials"}`, readBody(t, resp))
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t, func(cfg *config.Config) {
		cfg.Server.RateLimit = 2
		cfg.Server.RateWindowSec = 60
	})
	handler := e.api.Handler()

	call := func(path, addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := call("/api/stats", "10.0.0.1:5000")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, call("/api/stats", "10.0.0.1:5001").Code)

	limited := call("/api/stats", "10.0.0.1:5002")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), "Too many requests")

	assert.Equal(t, http.StatusOK, call("/api/stats", "10.0.0.2:5000").Code)
	assert.Equal(t, http.StatusOK, call("/healthz", "10.0.0.1:5003").Code)
}

func TestLimiterForgetsIdleVisitors(t *testing.T) {
	l := newIPLimiter(1, time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	delay, _ := l.reserve("a")
	assert.Zero(t, delay)
	delay, _ = l.reserve("a")
	assert.Greater(t, delay, time.Duration(0))

	now = now.Add(2 * time.Minute)
	delay, _ = l.reserve("b")
	assert.Zero(t, delay)
	assert.Len(t, l.visitors, 1)
}

func TestMetricsAndHealth(t *testing.T) {
	e := newTestEnv(t, nil)

	body := readBody(t, e.get(t, "/metrics"))
	assert.Contains(t, body, "mailsync_active_jobs")
	assert.Equal(t, "OK", readBody(t, e.get(t, "/healthz")))

	off := newTestEnv(t, func(cfg *config.Config) { cfg.Server.Metrics = false })
	resp := off.get(t, "/metrics")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestFlexibleFields(t *testing.T) {
	var p syncRequest
	require.NoError(t, json.Unmarshal([]byte(`{"src_port":"1143","dest_port":143,"concurrency":null,"dry_run":"false","src_secure":false,"dest_secure":"yes"}`), &p))

	assert.Equal(t, 1143, p.SrcPort.or(993))
	assert.Equal(t, 143, p.DestPort.or(993))
	assert.Equal(t, 1, p.Concurrency.or(1))
	assert.False(t, p.DryRun.or(true))
	assert.False(t, p.SrcSecure.or(true))
	assert.False(t, p.DestSecure.or(true))

	var empty syncRequest
	require.NoError(t, json.Unmarshal([]byte(`{}`), &empty))
	assert.True(t, empty.SrcSecure.or(true))
	assert.Equal(t, 993, empty.SrcPort.or(993))
}
