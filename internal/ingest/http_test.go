package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"escalation/internal/adapter"
	"escalation/internal/config"
	"escalation/internal/domain"
	"escalation/internal/state"
)

type captureSink struct {
	mu      sync.Mutex
	records []domain.IntakeRecord
	err     error
}

func (s *captureSink) Submit(_ context.Context, record domain.IntakeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type capturePatcher struct {
	gotID    string
	gotPatch domain.AlertPatch
	err      error
}

func (p *capturePatcher) ApplyPatch(_ context.Context, alertID string, patch domain.AlertPatch) (domain.Alert, error) {
	p.gotID = alertID
	p.gotPatch = patch
	if p.err != nil {
		return domain.Alert{}, p.err
	}
	return domain.Alert{ID: alertID, Status: domain.StatusAcknowledged}, nil
}

// echoSource treats each webhook payload line as one record name.
type echoSource struct{}

func (echoSource) Name() string { return "echo" }

func (echoSource) Pull(context.Context) ([]adapter.RawAlert, error) {
	return nil, adapter.ErrPullNotSupported
}

func (echoSource) HandleWebhook(payload []byte) ([]adapter.RawAlert, error) {
	var names []string
	if err := json.Unmarshal(payload, &names); err != nil {
		return nil, err
	}
	raws := make([]adapter.RawAlert, 0, len(names))
	for _, name := range names {
		raws = append(raws, adapter.RawAlert{Source: "echo", Payload: json.RawMessage(fmt.Sprintf("%q", name))})
	}
	return raws, nil
}

func (echoSource) Normalize(raw adapter.RawAlert) (domain.IntakeRecord, error) {
	var name string
	if err := json.Unmarshal(raw.Payload, &name); err != nil {
		return domain.IntakeRecord{}, err
	}
	if name == "" {
		return domain.IntakeRecord{}, errors.New("empty alert name")
	}
	return domain.IntakeRecord{Name: name, System: "echo"}, nil
}

func newTestServer(sink IntakeSink, patcher PatchApplier) *HTTPServer {
	cfg := config.HTTPIngestConfig{
		Enabled:           true,
		Listen:            ":0",
		HealthPath:        "/healthz",
		ReadyPath:         "/readyz",
		WebhookPathPrefix: "/webhook/",
		AlertsPath:        "/alerts/",
		MaxBodyBytes:      1 << 20,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHTTPServer(cfg, sink, patcher, []adapter.SourceAdapter{echoSource{}}, func() bool { return true }, logger)
}

func TestHTTPIntakeSingleRecord(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	srv := newTestServer(sink, &capturePatcher{})

	body := `{"name":"High CPU","severity":"P2","system":"payments"}`
	request := httptest.NewRequest("POST", "/alerts", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, request)

	if recorder.Code != 202 {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if sink.count() != 1 {
		t.Fatalf("expected 1 record, got %d", sink.count())
	}
	if sink.records[0].Name != "High CPU" {
		t.Fatalf("unexpected record: %+v", sink.records[0])
	}
}

func TestHTTPIntakeBatch(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	srv := newTestServer(sink, &capturePatcher{})

	body := `[{"name":"a"},{"name":"b"},{"name":"c"}]`
	request := httptest.NewRequest("POST", "/alerts", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, request)

	if recorder.Code != 202 {
		t.Fatalf("expected 202, got %d", recorder.Code)
	}
	if sink.count() != 3 {
		t.Fatalf("expected 3 records, got %d", sink.count())
	}
}

func TestHTTPIntakeRejectsInvalidPayload(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	srv := newTestServer(sink, &capturePatcher{})

	for _, body := range []string{``, `{}`, `[]`, `{"name":"x"} trailing`, `{"name":"x","severity":"P9"}`} {
		request := httptest.NewRequest("POST", "/alerts", strings.NewReader(body))
		recorder := httptest.NewRecorder()
		srv.Handler().ServeHTTP(recorder, request)
		if recorder.Code != 400 {
			t.Fatalf("payload %q: expected 400, got %d", body, recorder.Code)
		}
	}
	if sink.count() != 0 {
		t.Fatalf("expected no records, got %d", sink.count())
	}
}

func TestHTTPWebhookRoutesToAdapter(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	srv := newTestServer(sink, &capturePatcher{})

	// The empty name fails normalization and is dropped without
	// aborting its siblings.
	request := httptest.NewRequest("POST", "/webhook/echo", strings.NewReader(`["disk full","","memory low"]`))
	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, request)

	if recorder.Code != 202 {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if sink.count() != 2 {
		t.Fatalf("expected 2 records, got %d", sink.count())
	}
}

func TestHTTPWebhookUnknownSource(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&captureSink{}, &capturePatcher{})
	request := httptest.NewRequest("POST", "/webhook/nagios", strings.NewReader(`[]`))
	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, request)
	if recorder.Code != 404 {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestHTTPPatchAppliesUpdate(t *testing.T) {
	t.Parallel()

	patcher := &capturePatcher{}
	srv := newTestServer(&captureSink{}, patcher)

	request := httptest.NewRequest("PATCH", "/alerts/alert/payments/high_cpu/abc123", strings.NewReader(`{"status":"acknowledged"}`))
	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, request)

	if recorder.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if patcher.gotID != "alert/payments/high_cpu/abc123" {
		t.Fatalf("unexpected alert id %q", patcher.gotID)
	}
	if patcher.gotPatch.Status == nil || *patcher.gotPatch.Status != domain.StatusAcknowledged {
		t.Fatalf("unexpected patch: %+v", patcher.gotPatch)
	}
}

func TestHTTPPatchErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		code int
	}{
		{"missing", state.ErrNotFound, 404},
		{"conflict", state.ErrConflict, 409},
		{"other", errors.New("backend down"), 500},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(&captureSink{}, &capturePatcher{err: tc.err})
			request := httptest.NewRequest("PATCH", "/alerts/alert/x", strings.NewReader(`{"status":"resolved"}`))
			recorder := httptest.NewRecorder()
			srv.Handler().ServeHTTP(recorder, request)
			if recorder.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, recorder.Code)
			}
		})
	}
}

func TestHTTPPatchRejectsBadStatus(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&captureSink{}, &capturePatcher{})
	request := httptest.NewRequest("PATCH", "/alerts/alert/x", strings.NewReader(`{"status":"bogus"}`))
	recorder := httptest.NewRecorder()
	srv.Handler().ServeHTTP(recorder, request)
	if recorder.Code != 400 {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestHTTPHealthAndReady(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&captureSink{}, &capturePatcher{})
	for _, path := range []string{"/healthz", "/readyz"} {
		request := httptest.NewRequest("GET", path, nil)
		recorder := httptest.NewRecorder()
		srv.Handler().ServeHTTP(recorder, request)
		if recorder.Code != 200 {
			t.Fatalf("%s: expected 200, got %d", path, recorder.Code)
		}
	}
}
