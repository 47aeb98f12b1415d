package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"escalation/internal/adapter"
	"escalation/internal/config"
	"escalation/internal/domain"
	"escalation/internal/state"
)

// IntakeSink receives normalized intake records from ingest interfaces.
// Params: context and one validated record.
// Returns: processing error.
type IntakeSink interface {
	Submit(ctx context.Context, record domain.IntakeRecord) error
}

// PatchApplier applies field updates to one stored alert.
// Params: alert ID and validated patch.
// Returns: updated alert or lookup/merge error.
type PatchApplier interface {
	ApplyPatch(ctx context.Context, alertID string, patch domain.AlertPatch) (domain.Alert, error)
}

// HTTPServer serves alert intake, source webhooks, and alert updates.
// Params: sink, patch applier, registered source adapters, and limits.
// Returns: HTTP ingest surface with health/ready probes.
type HTTPServer struct {
	cfg      config.HTTPIngestConfig
	sink     IntakeSink
	patcher  PatchApplier
	adapters map[string]adapter.SourceAdapter
	ready    func() bool
	logger   *slog.Logger
	server   *http.Server
}

// NewHTTPServer creates the ingest HTTP server.
// Params: HTTP ingest config, sink, patch applier, source adapters,
// readiness probe, and logger.
// Returns: configured server; call Start to begin serving.
func NewHTTPServer(
	cfg config.HTTPIngestConfig,
	sink IntakeSink,
	patcher PatchApplier,
	sources []adapter.SourceAdapter,
	ready func() bool,
	logger *slog.Logger,
) *HTTPServer {
	adapters := make(map[string]adapter.SourceAdapter, len(sources))
	for _, source := range sources {
		adapters[source.Name()] = source
	}
	srv := &HTTPServer{
		cfg:      cfg,
		sink:     sink,
		patcher:  patcher,
		adapters: adapters,
		ready:    ready,
		logger:   logger,
	}
	srv.server = &http.Server{
		Addr:    cfg.Listen,
		Handler: srv.Handler(),
	}
	return srv
}

// Handler builds the route multiplexer for the ingest surface.
// Params: none.
// Returns: handler usable for both serving and tests.
func (s *HTTPServer) Handler() http.Handler {
	alertsPath := strings.TrimSuffix(s.cfg.AlertsPath, "/")
	webhookPrefix := strings.TrimSuffix(s.cfg.WebhookPathPrefix, "/")
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.cfg.HealthPath, s.handleHealth)
	mux.HandleFunc("GET "+s.cfg.ReadyPath, s.handleReady)
	mux.HandleFunc("POST "+alertsPath, s.handleIntake)
	mux.HandleFunc("PATCH "+alertsPath+"/{id...}", s.handlePatch)
	mux.HandleFunc("POST "+webhookPrefix+"/{source}", s.handleWebhook)
	return mux
}

// Start serves HTTP until the listener fails or Shutdown is called.
// Params: none.
// Returns: listener error other than graceful close.
func (s *HTTPServer) Start() error {
	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
// Params: deadline context.
// Returns: shutdown error.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(writer http.ResponseWriter, _ *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(writer http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready() {
		writeJSON(writer, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(writer, http.StatusOK, map[string]string{"status": "ready"})
}

// handleIntake accepts one record or a batch on the canonical endpoint.
// Params: request body with an intake object or array.
// Returns: 202 on full acceptance, 400 on decode failure, 503 on sink failure.
func (s *HTTPServer) handleIntake(writer http.ResponseWriter, request *http.Request) {
	body, ok := s.readBody(writer, request)
	if !ok {
		return
	}

	scratch := acquireDecodeScratch()
	defer releaseDecodeScratch(scratch)
	records, err := decodeIntakePayloadInto(body, scratch)
	if err != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	for _, record := range records {
		if err := s.sink.Submit(request.Context(), record); err != nil {
			s.logger.Error("intake submit failed", "error", err.Error())
			writeJSON(writer, http.StatusServiceUnavailable, map[string]string{"error": "intake unavailable"})
			return
		}
	}
	writeJSON(writer, http.StatusAccepted, map[string]int{"accepted": len(records)})
}

// handleWebhook routes a provider payload to its registered adapter.
// Params: source path segment naming the adapter and the raw payload.
// Returns: 202 with accepted count; invalid items are dropped, not fatal.
func (s *HTTPServer) handleWebhook(writer http.ResponseWriter, request *http.Request) {
	sourceName := request.PathValue("source")
	source, ok := s.adapters[sourceName]
	if !ok {
		writeJSON(writer, http.StatusNotFound, map[string]string{"error": "unknown source " + sourceName})
		return
	}

	body, ok := s.readBody(writer, request)
	if !ok {
		return
	}

	raws, err := source.HandleWebhook(body)
	if err != nil {
		if errors.Is(err, adapter.ErrWebhookNotSupported) {
			writeJSON(writer, http.StatusMethodNotAllowed, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(writer, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	records := adapter.NormalizeBatch(source, raws, s.logger)
	for _, record := range records {
		if err := s.sink.Submit(request.Context(), record); err != nil {
			s.logger.Error("webhook submit failed", "source", sourceName, "error", err.Error())
			writeJSON(writer, http.StatusServiceUnavailable, map[string]string{"error": "intake unavailable"})
			return
		}
	}
	writeJSON(writer, http.StatusAccepted, map[string]int{"accepted": len(records)})
}

// handlePatch applies a partial update to one stored alert.
// Params: alert ID from the path remainder and a patch document body.
// Returns: 200 with the updated alert, 404 for unknown IDs, 409 on
// concurrent-update conflict.
func (s *HTTPServer) handlePatch(writer http.ResponseWriter, request *http.Request) {
	alertID := strings.TrimSuffix(request.PathValue("id"), "/")
	if alertID == "" {
		writeJSON(writer, http.StatusBadRequest, map[string]string{"error": "alert id is required"})
		return
	}

	body, ok := s.readBody(writer, request)
	if !ok {
		return
	}

	var patch domain.AlertPatch
	if err := json.Unmarshal(body, &patch); err != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]string{"error": "decode patch: " + err.Error()})
		return
	}
	if err := patch.Validate(); err != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	alert, err := s.patcher.ApplyPatch(request.Context(), alertID, patch)
	if err != nil {
		switch {
		case errors.Is(err, state.ErrNotFound):
			writeJSON(writer, http.StatusNotFound, map[string]string{"error": "alert not found"})
		case errors.Is(err, state.ErrConflict):
			writeJSON(writer, http.StatusConflict, map[string]string{"error": "concurrent update, retry"})
		default:
			s.logger.Error("patch failed", "alert_id", alertID, "error", err.Error())
			writeJSON(writer, http.StatusInternalServerError, map[string]string{"error": "update failed"})
		}
		return
	}
	writeJSON(writer, http.StatusOK, alert)
}

// readBody reads the request body under the configured size limit.
// Params: response writer for limit errors and the request.
// Returns: body bytes and false when a response was already written.
func (s *HTTPServer) readBody(writer http.ResponseWriter, request *http.Request) ([]byte, bool) {
	limit := s.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	request.Body = http.MaxBytesReader(writer, request.Body, limit)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]string{"error": "read body: " + err.Error()})
		return nil, false
	}
	return body, true
}

func writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(payload)
}
