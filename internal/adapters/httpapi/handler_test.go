package httpapi

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"expvar"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	"wardtrace/internal/adapters/detections"
	"wardtrace/internal/blob"
	"wardtrace/internal/core"
	"wardtrace/internal/engine"
	"wardtrace/internal/infra/persistence/memory"
	"wardtrace/internal/snapshot"
	"wardtrace/internal/upload"
)

const transfersCSV = `patient_id,location,ward_in_time,ward_out_time
A,W1,2024-03-01 08:00,2024-03-03 10:00
B,W1,2024-03-02,2024-03-05
C,W2,2024-03-01,2024-03-02
`

const microCSV = `patient_id,infection,result,collection_date
A,MRSA,positive,2024-03-02
B,MRSA,Positive,2024-03-04
C,MRSA,negative,2024-03-01
C,VRE,positive,2024-03-01
`

type testEnv struct {
	server  *httptest.Server
	service *core.Service
	worker  *detections.Worker
}

func newTestEnv(t *testing.T, opts ...core.Option) *testEnv {
	t.Helper()
	uploads := upload.NewStore(blob.NewMemory(), upload.SampleConfig{})
	snaps := snapshot.New(memory.NewStore(), snapshot.DriverMemory)
	reg := prometheus.NewRegistry()
	rec, err := core.NewPrometheusRecorder(reg)
	require.NoError(t, err)
	opts = append([]core.Option{core.WithMetricsRecorder(rec)}, opts...)
	svc := core.NewService(snaps, uploads, opts...)

	worker := detections.NewWorker(svc, uploads)
	worker.Start()

	h := NewHandler(svc)
	h.Uploads = uploads
	h.Detections = worker
	h.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	server := httptest.NewServer(h.Router())
	t.Cleanup(func() {
		server.Close()
		_ = worker.Stop(context.Background())
	})
	return &testEnv{server: server, service: svc, worker: worker}
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for field, content := range files {
		fw, err := mw.CreateFormFile(field, field+".csv")
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func (e *testEnv) postTables(t *testing.T, path string, files map[string]string) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, files)
	resp, err := http.Post(e.server.URL+path, contentType, body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

var bothTables = map[string]string{TransfersField: transfersCSV, MicrobiologyField: microCSV}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	resp := env.get(t, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", decode(t, resp)["status"])

	env.postTables(t, "/api/v1/ingest", bothTables)
	metrics := env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, metrics.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(metrics.Body)
	require.NoError(t, err)
	require.Contains(t, buf.String(), `wardtrace_clusters{infection="MRSA"} 1`)
	require.Contains(t, buf.String(), `wardtrace_operations_total{operation="detect",status="success"} 1`)
}

func TestClustersBeforeAnyRun(t *testing.T) {
	env := newTestEnv(t)
	resp := env.get(t, "/api/v1/clusters")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, map[string]any{"message": "No cluster data available."}, decode(t, resp))

	detail := env.get(t, "/api/v1/clusters/MRSA/0")
	require.Equal(t, http.StatusNotFound, detail.StatusCode)
	export := env.get(t, "/api/v1/clusters/export")
	require.Equal(t, http.StatusNotFound, export.StatusCode)
}

func TestIngestThenBrowse(t *testing.T) {
	env := newTestEnv(t)
	resp := env.postTables(t, "/api/v1/ingest", bothTables)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ingested := decode(t, resp)
	stats := ingested["stats"].(map[string]any)
	require.EqualValues(t, 1, stats["total_clusters"])
	require.EqualValues(t, 3, stats["patients_positive"])
	runID := ingested["run_id"].(string)
	require.NotEmpty(t, runID)

	listed := decode(t, env.get(t, "/api/v1/clusters"))
	require.Equal(t, runID, listed["run_id"])
	ward := listed["ward_summary"].(map[string]any)["W1"].(map[string]any)
	require.EqualValues(t, 2, ward["MRSA"])
	require.Equal(t, []any{
		map[string]any{"location": "W1", "infection": "MRSA", "patients": float64(2)},
	}, listed["ward_rows"])
	clusters := listed["clusters"].(map[string]any)
	require.Len(t, clusters["MRSA"], 1)
	require.NotContains(t, clusters, "VRE")

	detail := env.get(t, "/api/v1/clusters/MRSA/0")
	require.Equal(t, http.StatusOK, detail.StatusCode)
	cluster := decode(t, detail)["cluster"].(map[string]any)
	require.Equal(t, []any{"A", "B"}, cluster["members"])
	require.Equal(t, []any{"W1"}, cluster["locations"])

	for _, path := range []string{"/api/v1/clusters/MRSA/1", "/api/v1/clusters/MRSA/-1", "/api/v1/clusters/VRE/0", "/api/v1/clusters/MRSA/first"} {
		require.Equal(t, http.StatusNotFound, env.get(t, path).StatusCode, path)
	}

	snaps := decode(t, env.get(t, "/api/v1/snapshots"))["snapshots"].([]any)
	require.Len(t, snaps, 1)
	require.Equal(t, runID, snaps[0].(map[string]any)["id"])
}

func TestExportFormats(t *testing.T) {
	env := newTestEnv(t)
	env.postTables(t, "/api/v1/ingest", bothTables)

	csvResp := env.get(t, "/api/v1/clusters/export?format=csv")
	require.Equal(t, http.StatusOK, csvResp.StatusCode)
	require.Equal(t, "text/csv", csvResp.Header.Get("Content-Type"))
	require.Contains(t, csvResp.Header.Get("Content-Disposition"), "clusters-")
	records, err := csv.NewReader(csvResp.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, exportColumns, records[0])
	require.Equal(t, []string{"MRSA", "1", "2", "A;B", "2024-03-02", "2024-03-04", "2", "W1", "1", "2"}, records[1])

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/v1/clusters/export", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/csv")
	accepted, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer accepted.Body.Close()
	require.Equal(t, "text/csv", accepted.Header.Get("Content-Type"))

	jsonResp := decode(t, env.get(t, "/api/v1/clusters/export?format=json"))
	require.Len(t, jsonResp["rows"], 1)

	require.Equal(t, http.StatusNotAcceptable, env.get(t, "/api/v1/clusters/export?format=xml").StatusCode)
}

func TestIngestErrors(t *testing.T) {
	env := newTestEnv(t)

	missing := env.postTables(t, "/api/v1/ingest", map[string]string{TransfersField: transfersCSV})
	require.Equal(t, http.StatusBadRequest, missing.StatusCode)
	require.Contains(t, decode(t, missing)["error"], MicrobiologyField)

	badDate := "patient_id,infection,result,collection_date\nA,MRSA,positive,yesterday\n"
	parse := env.postTables(t, "/api/v1/ingest", map[string]string{TransfersField: transfersCSV, MicrobiologyField: badDate})
	require.Equal(t, http.StatusBadRequest, parse.StatusCode)
	require.Contains(t, decode(t, parse)["error"], "yesterday")

	notMultipart, err := http.Post(env.server.URL+"/api/v1/ingest", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer notMultipart.Body.Close()
	require.Equal(t, http.StatusBadRequest, notMultipart.StatusCode)

	// failed runs leave nothing published
	require.Equal(t, map[string]any{"message": "No cluster data available."}, decode(t, env.get(t, "/api/v1/clusters")))
}

func TestOversizedUploadIsRejected(t *testing.T) {
	h := NewHandler(core.NewService(nil, nil))
	h.MaxUploadBytes = 1024
	big := transfersCSV + strings.Repeat("D,W9,2024-03-01,2024-03-02\n", 200)
	body, contentType := multipartBody(t, map[string]string{TransfersField: big, MicrobiologyField: microCSV})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Contains(t, rec.Body.String(), "exceeds 1024 bytes")
}

func TestDebugVarsMountedWhenConfigured(t *testing.T) {
	h := NewHandler(core.NewService(nil, nil))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	h.Debug = expvar.Handler()
	rec = httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"memstats"`)
}

func TestPresenceLimitIsUnprocessable(t *testing.T) {
	env := newTestEnv(t, core.WithEngineOptions(engine.WithMaxPresenceRows(2)))
	resp := env.postTables(t, "/api/v1/ingest", bothTables)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestUploadThenQueuedDetection(t *testing.T) {
	env := newTestEnv(t)

	none, err := http.Post(env.server.URL+"/api/v1/detections", "application/json", nil)
	require.NoError(t, err)
	defer none.Body.Close()
	require.Equal(t, http.StatusConflict, none.StatusCode)

	uploaded := env.postTables(t, "/api/v1/uploads", bothTables)
	require.Equal(t, http.StatusCreated, uploaded.StatusCode)
	loc := decode(t, uploaded)["locations"].(map[string]any)
	require.Equal(t, upload.TransfersKey, loc["transfers"])

	resp, err := http.Post(env.server.URL+"/api/v1/detections", "application/json", strings.NewReader(`{"requested_by":"ipc"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	job := decode(t, resp)["detection"].(map[string]any)
	id := job["id"].(string)

	require.Eventually(t, func() bool {
		got, ok := env.worker.Get(id)
		return ok && got.Status == detections.StatusSucceeded
	}, 2*time.Second, 5*time.Millisecond)

	status := decode(t, env.get(t, "/api/v1/detections/"+id))["detection"].(map[string]any)
	require.Equal(t, "succeeded", status["status"])
	require.EqualValues(t, 1, status["stats"].(map[string]any)["total_clusters"])

	listed := decode(t, env.get(t, "/api/v1/clusters"))
	require.Equal(t, status["run_id"], listed["run_id"])

	require.Equal(t, http.StatusNotFound, env.get(t, "/api/v1/detections/unknown").StatusCode)

	bad, err := http.Post(env.server.URL+"/api/v1/detections", "application/json", strings.NewReader(`{"source":`))
	require.NoError(t, err)
	defer bad.Body.Close()
	require.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestUnconfiguredCollaborators(t *testing.T) {
	svc := core.NewService(nil, nil)
	server := httptest.NewServer(WithAccessLog(&bytes.Buffer{}, NewHandler(svc).Router()))
	defer server.Close()

	body, contentType := multipartBody(t, bothTables)
	resp, err := http.Post(server.URL+"/api/v1/uploads", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// without an upload store ingest detects straight from the request
	body, contentType = multipartBody(t, bothTables)
	ingest, err := http.Post(server.URL+"/api/v1/ingest", contentType, body)
	require.NoError(t, err)
	defer ingest.Body.Close()
	require.Equal(t, http.StatusOK, ingest.StatusCode)

	jobs, err := http.Post(server.URL+"/api/v1/detections", "application/json", nil)
	require.NoError(t, err)
	defer jobs.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, jobs.StatusCode)

	snaps, err := http.Get(server.URL + "/api/v1/snapshots")
	require.NoError(t, err)
	defer snaps.Body.Close()
	require.Equal(t, http.StatusOK, snaps.StatusCode)
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusNotFound, statusFor(core.ErrNotFound{Infection: "X"}))
	require.Equal(t, http.StatusNotFound, statusFor(core.ErrNoData))
	require.Equal(t, http.StatusConflict, statusFor(upload.ErrNoUpload))
	require.Equal(t, http.StatusInternalServerError, statusFor(context.DeadlineExceeded))
}
