package sink

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/ports"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookConfig tunes delivery. Zero values fall back to defaults.
type WebhookConfig struct {
	URL      string
	Secret   string
	Timeout  time.Duration
	Attempts uint
	Delay    time.Duration
	// RatePerSecond caps outgoing requests; 0 disables the limiter.
	RatePerSecond float64
	Burst         int
}

// Webhook forwards event batches to an HTTP endpoint. Each request is signed
// with HMAC-SHA256 so the receiver can verify authenticity. Transient
// failures are retried, and a circuit breaker stops hammering a receiver that
// keeps failing.
type Webhook struct {
	url      string
	secret   []byte
	client   *http.Client
	attempts uint
	delay    time.Duration
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
}

type webhookBatch struct {
	Events []json.RawMessage `json:"events"`
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebhookTimeout
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 200 * time.Millisecond
	}
	w := &Webhook{
		url:      cfg.URL,
		secret:   []byte(cfg.Secret),
		client:   &http.Client{Timeout: cfg.Timeout},
		attempts: cfg.Attempts,
		delay:    cfg.Delay,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "audit-webhook",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return w
}

// WriteBatch POSTs the batch as {"events": [...]}. Events that do not
// marshal are left out and reported through *ports.EncodeError. Headers:
//
//	Content-Type:               application/json
//	X-Chainaudit-Batch-Size:    <len(events)>
//	X-Hub-Signature-256:        sha256=<hex-encoded HMAC-SHA256>
func (w *Webhook) WriteBatch(ctx context.Context, events []domain.AuditEvent) error {
	encoded, encErr := ports.EncodeBatch(func(e domain.AuditEvent) ([]byte, error) {
		return json.Marshal(e)
	}, events)
	if len(encoded) == 0 {
		return encErr
	}
	batch := webhookBatch{Events: make([]json.RawMessage, 0, len(encoded))}
	for _, enc := range encoded {
		batch.Events = append(batch.Events, enc.Record)
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	sig := w.sign(payload)

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("webhook rate limit: %w", err)
		}
	}

	_, err = w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.attempts),
			retry.Delay(w.delay),
			retry.LastErrorOnly(true),
		)
		return nil, r.Do(func() error {
			return w.post(ctx, payload, sig, len(encoded))
		})
	})
	if err != nil {
		return err
	}
	return encErr
}

func (w *Webhook) post(ctx context.Context, payload []byte, sig string, n int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Chainaudit-Batch-Size", strconv.Itoa(n))
	req.Header.Set("X-Hub-Signature-256", "sha256="+sig)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return retry.Unrecoverable(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}

// sign returns the lowercase hex-encoded HMAC-SHA256 of payload using w.secret.
func (w *Webhook) sign(payload []byte) string {
	mac := hmac.New(sha256.New, w.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (w *Webhook) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
