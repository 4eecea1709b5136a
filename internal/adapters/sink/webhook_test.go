package sink

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/ports"
)

func sampleEvents() []domain.AuditEvent {
	return []domain.AuditEvent{
		{ID: "evt-1", Type: domain.EventTransactionInitiated, Severity: domain.SeverityMedium, Context: domain.AuditContext{CorrelationID: "c1", Source: "wallet"}},
		{ID: "evt-2", Type: domain.EventTransactionCompleted, Severity: domain.SeverityLow, Context: domain.AuditContext{CorrelationID: "c1", Source: "wallet"}},
	}
}

func TestWebhookSuccess(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	secret := "test-secret"
	hook := NewWebhook(WebhookConfig{URL: srv.URL, Secret: secret, Timeout: 5 * time.Second})

	if err := hook.WriteBatch(context.Background(), sampleEvents()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ct := gotHeaders.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if n := gotHeaders.Get("X-Chainaudit-Batch-Size"); n != "2" {
		t.Errorf("X-Chainaudit-Batch-Size = %q, want 2", n)
	}

	sigHeader := gotHeaders.Get("X-Hub-Signature-256")
	if !strings.HasPrefix(sigHeader, "sha256=") {
		t.Fatalf("X-Hub-Signature-256 header missing or malformed: %q", sigHeader)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	if got, want := strings.TrimPrefix(sigHeader, "sha256="), hex.EncodeToString(mac.Sum(nil)); got != want {
		t.Errorf("signature mismatch: got %q, want %q", got, want)
	}

	var decoded struct {
		Events []domain.AuditEvent `json:"events"`
	}
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(decoded.Events) != 2 || decoded.Events[0].ID != "evt-1" {
		t.Errorf("unexpected body events: %+v", decoded.Events)
	}
}

func TestWebhookSkipsUnmarshalableEvents(t *testing.T) {
	var gotBody []byte
	var gotSize string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSize = r.Header.Get("X-Chainaudit-Batch-Size")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	events := sampleEvents()
	events = append(events, domain.AuditEvent{
		ID:   "evt-nan",
		Type: domain.EventAgentReasoning,
		Data: domain.AgentReasoning{AgentID: "a1", Confidence: math.NaN()},
	})
	hook := NewWebhook(WebhookConfig{URL: srv.URL})
	err := hook.WriteBatch(context.Background(), events)

	var encErr *ports.EncodeError
	if !errors.As(err, &encErr) || len(encErr.Skipped) != 1 || encErr.Skipped[0].ID != "evt-nan" {
		t.Fatalf("expected evt-nan reported as skipped, got %v", err)
	}
	if gotSize != "2" {
		t.Errorf("X-Chainaudit-Batch-Size = %q, want 2", gotSize)
	}
	var decoded struct {
		Events []domain.AuditEvent `json:"events"`
	}
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(decoded.Events) != 2 {
		t.Errorf("expected the two encodable events delivered, got %d", len(decoded.Events))
	}
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := NewWebhook(WebhookConfig{URL: srv.URL, Attempts: 3, Delay: time.Millisecond})
	if err := hook.WriteBatch(context.Background(), sampleEvents()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	hook := NewWebhook(WebhookConfig{URL: srv.URL, Attempts: 3, Delay: time.Millisecond})
	err := hook.WriteBatch(context.Background(), sampleEvents())
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected 400 error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestWebhookBreakerOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	hook := NewWebhook(WebhookConfig{URL: srv.URL, Attempts: 1, Delay: time.Millisecond})
	for i := 0; i < 5; i++ {
		if err := hook.WriteBatch(context.Background(), sampleEvents()); err == nil {
			t.Fatalf("expected failure on attempt %d", i)
		}
	}
	err := hook.WriteBatch(context.Background(), sampleEvents())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
}

func TestWebhookContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	hook := NewWebhook(WebhookConfig{URL: srv.URL, Attempts: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := hook.WriteBatch(ctx, sampleEvents()); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}

func TestWebhookZeroTimeoutUsesDefault(t *testing.T) {
	hook := NewWebhook(WebhookConfig{URL: "http://localhost:9"})
	if hook.client.Timeout != defaultWebhookTimeout {
		t.Errorf("timeout = %v, want %v", hook.client.Timeout, defaultWebhookTimeout)
	}
}
