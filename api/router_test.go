package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fatgo/events"
	"fatgo/host"
	"fatgo/presenter"
	"fatgo/runner"
	"fatgo/runner/storage"
)

type stubRunner struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (r *stubRunner) Run(ctx context.Context, command, cwd string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.fail
}

type testServer struct {
	store  *storage.Storage
	broker *events.EventBroker
	viewer *presenter.Viewer
	runner *stubRunner
	ws     string
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "fat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s := &testServer{
		store:  store,
		broker: events.NewBroker(nil),
		viewer: presenter.NewViewer(t.TempDir(), nil, nil),
		runner: &stubRunner{},
		ws:     t.TempDir(),
	}

	o := runner.New(runner.Options{
		Runner:    s.runner,
		Stages:    runner.DefaultStages(runner.StageCommands{}, true),
		Progress:  s.broker,
		Presenter: s.viewer,
		Storage:   store,
		LookPath:  func(string) (string, error) { return "/usr/bin/dot", nil },
	})
	cmds := host.NewCommands()
	host.Bind(cmds.Register(host.AnalyzeCommand), o, runner.StaticWorkspace(s.ws))

	s.router = NewRouter(Deps{
		Store:     store,
		Commands:  cmds,
		Workspace: runner.StaticWorkspace(s.ws),
		Broker:    s.broker,
		Viewer:    s.viewer,
		Logger:    zap.NewNop(),
	})
	return s
}

func (s *testServer) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// waitForRun blocks until the dispatched run has finished and presented its graph
func (s *testServer) waitForRun(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		runs, err := s.store.GetRuns(10)
		return err == nil && len(runs) == 1 && runs[0].Status == runner.StatusSuccess && len(s.viewer.Panels()) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func uploadRequest(t *testing.T, field, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		part, err := mw.CreateFormFile(field, "firmware_v2.bin")
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no file"))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestPostAnalyzeRunsPipeline(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/analyze")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, host.AnalyzeCommand, body["command"])
	assert.Equal(t, "starting", body["status"])

	s.waitForRun(t)

	rec = s.do(t, http.MethodGet, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []storage.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, s.ws, runs[0].Workspace)

	rec = s.do(t, http.MethodGet, "/api/runs/"+strconv.Itoa(runs[0].ID))
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Run    storage.Run               `json:"run"`
		Stages []storage.StageExecution `json:"stages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Len(t, detail.Stages, 3)
	assert.Equal(t, runner.StageDisassemble, detail.Stages[0].Name)
	assert.Equal(t, runner.StageReport, detail.Stages[2].Name)

	rec = s.do(t, http.MethodGet, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats []storage.StageStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Len(t, stats, 3)
	assert.Equal(t, 1, stats[0].Succeeded)
}

func TestGetRunErrors(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/runs/abc").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/runs/99").Code)
}

func TestHistoryDisabled(t *testing.T) {
	router := NewRouter(Deps{Commands: host.NewCommands(), Broker: events.NewBroker(nil), Viewer: presenter.NewViewer(t.TempDir(), nil, nil)})

	for _, path := range []string{"/api/runs", "/api/runs/1", "/api/stats"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestViewerEndpoints(t *testing.T) {
	s := newTestServer(t)

	image := filepath.Join(s.ws, "firmware", "cfg.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(image), 0755))
	require.NoError(t, os.WriteFile(image, []byte("\x89PNG\r\n\x1a\n"), 0644))
	require.NoError(t, s.viewer.Present(context.Background(), image))

	rec := s.do(t, http.MethodGet, "/api/panels")
	require.Equal(t, http.StatusOK, rec.Code)
	var panels []presenter.Panel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &panels))
	require.Len(t, panels, 1)
	id := panels[0].ID
	assert.Equal(t, presenter.ViewType, panels[0].ViewType)

	rec = s.do(t, http.MethodGet, "/viewer/"+id)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Firmware Control Flow Graph")
	assert.Contains(t, rec.Body.String(), `src="/viewer/`+id+`/image"`)

	rec = s.do(t, http.MethodGet, "/viewer/"+id+"/image")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/viewer/nope").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/viewer/nope/image").Code)

	require.NoError(t, os.Remove(image))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/viewer/"+id+"/image").Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodOptions, "/api/analyze")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Zero(t, s.runner.calls)
}

func TestEventStream(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		// skip the data line and the blank separator
		_, err = reader.ReadString('\n')
		require.NoError(t, err)
		_, err = reader.ReadString('\n')
		require.NoError(t, err)
		return strings.TrimSpace(strings.TrimPrefix(line, "event:"))
	}

	assert.Equal(t, "connected", readEvent())

	require.Eventually(t, func() bool { return s.broker.Clients() == 1 }, time.Second, 10*time.Millisecond)
	s.broker.Publish(runner.Event{Type: runner.EventRunStarted, RunID: "r1"})
	assert.Equal(t, string(runner.EventRunStarted), readEvent())
}

func TestPostAnalyzeWithUpload(t *testing.T) {
	s := newTestServer(t)
	firmware := runner.DerivePaths(runner.WorkspaceContext{Root: s.ws}).Firmware

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, uploadRequest(t, "file", "\x7fELF firmware image"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, firmware, body["firmware"])

	data, err := os.ReadFile(firmware)
	require.NoError(t, err)
	assert.Equal(t, "\x7fELF firmware image", string(data))

	entries, err := os.ReadDir(filepath.Dir(firmware))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary upload files are left behind")

	s.waitForRun(t)
}

func TestPostAnalyzeMultipartWithoutFile(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, uploadRequest(t, "", ""))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotContains(t, body, "firmware")

	s.waitForRun(t)
}

func TestPostAnalyzeUploadWithoutWorkspace(t *testing.T) {
	cmds := host.NewCommands()
	dispatched := make(chan struct{}, 1)
	cmds.Register(host.AnalyzeCommand).OnTrigger(func(ctx context.Context) error {
		dispatched <- struct{}{}
		return nil
	})
	router := NewRouter(Deps{
		Commands:  cmds,
		Workspace: runner.StaticWorkspace(""),
		Broker:    events.NewBroker(nil),
		Viewer:    presenter.NewViewer(t.TempDir(), nil, nil),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "file", "image"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), runner.ErrNoWorkspace.Error())

	select {
	case <-dispatched:
		t.Fatal("analysis must not start when the upload was rejected")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGetDisassemblyLog(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/artifacts/log")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	logPath := runner.DerivePaths(runner.WorkspaceContext{Root: s.ws}).Log
	require.NoError(t, os.MkdirAll(filepath.Dir(logPath), 0755))
	require.NoError(t, os.WriteFile(logPath, []byte("0x0000: MOV R0, #1\n"), 0644))

	rec = s.do(t, http.MethodGet, "/api/artifacts/log")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0x0000: MOV R0, #1\n", rec.Body.String())
	assert.Equal(t, `attachment; filename="disassembly.log"`, rec.Header().Get("Content-Disposition"))
}

func TestGetDisassemblyLogWithoutWorkspace(t *testing.T) {
	router := NewRouter(Deps{Commands: host.NewCommands(), Broker: events.NewBroker(nil), Viewer: presenter.NewViewer(t.TempDir(), nil, nil)})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/artifacts/log", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}
