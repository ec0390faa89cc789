// Package httpapi exposes uploads, detections and cluster results over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wardtrace/internal/adapters/detections"
	"wardtrace/internal/core"
	"wardtrace/internal/engine"
	"wardtrace/internal/ingest"
	"wardtrace/internal/snapshot"
	"wardtrace/internal/upload"
	"wardtrace/pkg/domain"
)

// Form field names of the upload endpoints.
const (
	TransfersField    = "transfers_file"
	MicrobiologyField = "microbiology_file"
)

const noDataMessage = "No cluster data available."

// Service is the detection service as seen by the handlers.
type Service interface {
	DetectFromReaders(ctx context.Context, transfers, microbiology io.Reader) (core.Published, error)
	DetectFromLocations(ctx context.Context, loc upload.Locations) (core.Published, error)
	ListClusters() (core.Published, error)
	ClusterDetail(infection string, idx int) (domain.Cluster, error)
	SnapshotHistory(ctx context.Context) ([]snapshot.Handle, error)
}

// Uploads stores uploaded tables.
type Uploads interface {
	Save(ctx context.Context, transfers, microbiology io.Reader) (upload.Locations, error)
}

// Handler serves the wardtrace HTTP API.
type Handler struct {
	Service    Service
	Uploads    Uploads
	Detections detections.Scheduler
	Metrics    http.Handler
	// Debug, when set, serves /debug/vars.
	Debug http.Handler
	// MaxUploadBytes bounds multipart bodies; zero means 64 MiB.
	MaxUploadBytes int64
}

// NewHandler constructs a handler. Uploads, Detections and Metrics are set
// on the returned value when available.
func NewHandler(svc Service) *Handler {
	return &Handler{Service: svc}
}

// Router registers all routes.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	metrics := h.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Handle("/metrics", metrics).Methods(http.MethodGet)
	if h.Debug != nil {
		r.Handle("/debug/vars", h.Debug).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/uploads", h.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/ingest", h.handleIngest).Methods(http.MethodPost)
	api.HandleFunc("/detections", h.handleDetectionCreate).Methods(http.MethodPost)
	api.HandleFunc("/detections/{id}", h.handleDetectionGet).Methods(http.MethodGet)
	api.HandleFunc("/clusters", h.handleClusters).Methods(http.MethodGet)
	api.HandleFunc("/clusters/export", h.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/clusters/{infection}/{idx}", h.handleClusterDetail).Methods(http.MethodGet)
	api.HandleFunc("/snapshots", h.handleSnapshots).Methods(http.MethodGet)
	return r
}

// WithAccessLog wraps next with an Apache-style access log written to w.
func WithAccessLog(w io.Writer, next http.Handler) http.Handler {
	if w == nil {
		return next
	}
	return handlers.LoggingHandler(w, next)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if h.Uploads == nil {
		writeError(w, http.StatusServiceUnavailable, "upload storage not configured")
		return
	}
	transfers, micro, ok := h.readTables(w, r)
	if !ok {
		return
	}
	defer closeAll(transfers, micro)
	loc, err := h.Uploads.Save(r.Context(), transfers, micro)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":   "Files uploaded successfully.",
		"locations": loc,
	})
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	transfers, micro, ok := h.readTables(w, r)
	if !ok {
		return
	}
	defer closeAll(transfers, micro)

	var (
		published core.Published
		err       error
	)
	if h.Uploads != nil {
		var loc upload.Locations
		loc, err = h.Uploads.Save(r.Context(), transfers, micro)
		if err == nil {
			published, err = h.Service.DetectFromLocations(r.Context(), loc)
		}
	} else {
		published, err = h.Service.DetectFromReaders(r.Context(), transfers, micro)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Ingest and detection completed.",
		"run_id":  published.RunID,
		"stats":   published.Result.Stats,
		"report":  published.Report,
	})
}

func (h *Handler) readTables(w http.ResponseWriter, r *http.Request) (multipart.File, multipart.File, bool) {
	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = 64 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || r.ContentLength > limit {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", limit))
			return nil, nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid multipart upload")
		return nil, nil, false
	}
	transfers, _, err := r.FormFile(TransfersField)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing %s", TransfersField))
		return nil, nil, false
	}
	micro, _, err := r.FormFile(MicrobiologyField)
	if err != nil {
		_ = transfers.Close()
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing %s", MicrobiologyField))
		return nil, nil, false
	}
	return transfers, micro, true
}

type detectionRequest struct {
	Source      string `json:"source"`
	RequestedBy string `json:"requested_by"`
}

func (h *Handler) handleDetectionCreate(w http.ResponseWriter, r *http.Request) {
	if h.Detections == nil {
		writeError(w, http.StatusServiceUnavailable, "detection queue not configured")
		return
	}
	var req detectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid detection request payload")
		return
	}
	job, err := h.Detections.Enqueue(r.Context(), detections.Input{
		Source:      upload.Source(req.Source),
		RequestedBy: req.RequestedBy,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{"detection": job})
	case errors.Is(err, detections.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, upload.ErrNoUpload):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (h *Handler) handleDetectionGet(w http.ResponseWriter, r *http.Request) {
	if h.Detections == nil {
		writeError(w, http.StatusServiceUnavailable, "detection queue not configured")
		return
	}
	job, ok := h.Detections.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "detection not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"detection": job})
}

type clustersResponse struct {
	RunID       string                   `json:"run_id"`
	Clusters    domain.ClusterCollection `json:"clusters"`
	Stats       domain.Stats             `json:"stats"`
	WardSummary domain.WardSummary       `json:"ward_summary"`
	// WardRows is the ward summary flattened into chart bars.
	WardRows []engine.WardRow `json:"ward_rows"`
}

func (h *Handler) handleClusters(w http.ResponseWriter, _ *http.Request) {
	published, err := h.Service.ListClusters()
	if errors.Is(err, core.ErrNoData) {
		writeJSON(w, http.StatusOK, map[string]string{"message": noDataMessage})
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clustersResponse{
		RunID:       published.RunID,
		Clusters:    published.Result.Clusters,
		Stats:       published.Result.Stats,
		WardSummary: published.WardSummary,
		WardRows:    engine.WardRows(published.WardSummary),
	})
}

func (h *Handler) handleClusterDetail(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	idx, err := strconv.Atoi(vars["idx"])
	if err != nil {
		writeError(w, http.StatusNotFound, "cluster not found")
		return
	}
	cluster, err := h.Service.ClusterDetail(vars["infection"], idx)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cluster": cluster})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	format := negotiateFormat(r)
	if format == "" {
		writeError(w, http.StatusNotAcceptable, "requested format not supported")
		return
	}
	published, err := h.Service.ListClusters()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rows := flattenClusters(published.Result.Clusters)
	if format == formatCSV {
		streamCSV(w, published, rows)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": published.RunID, "rows": rows})
}

func (h *Handler) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	history, err := h.Service.SnapshotHistory(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": history})
}

func closeAll(files ...multipart.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var (
		parseErr *ingest.ParseError
		notFound core.ErrNotFound
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &parseErr):
		return http.StatusBadRequest
	case errors.As(err, &notFound), errors.Is(err, core.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrPresenceLimit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, upload.ErrNoUpload):
		return http.StatusConflict
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
