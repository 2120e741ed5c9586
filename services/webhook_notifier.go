package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/phonginreallife/oncall/db"
)

const webhookTokenTTL = 5 * time.Minute

// WebhookNotifier delivers alerts to external targets. Every request carries
// a short-lived HS256 JWT so receivers can verify it came from us; each host
// gets its own circuit breaker.
type WebhookNotifier struct {
	signingKey []byte
	httpClient *http.Client
	clock      Clock
	logger     *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewWebhookNotifier(signingKey string, clock Clock, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		signingKey: []byte(signingKey),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		clock:      clock,
		logger:     logger.Named("webhook"),
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
}

// WebhookPayload is the JSON body posted to external targets.
type WebhookPayload struct {
	Event       string                 `json:"event"`
	AlertID     string                 `json:"alert_id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	Severity    string                 `json:"severity"`
	Source      string                 `json:"source"`
	Labels      map[string]interface{} `json:"labels,omitempty"`
	Level       int                    `json:"escalation_level"`
	Cycle       int                    `json:"escalation_cycle"`
	SentAt      time.Time              `json:"sent_at"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, target string, alert db.Alert, level db.EscalationLevel) error {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid webhook target %q", target)
	}

	now := w.clock.Now()
	body, err := json.Marshal(WebhookPayload{
		Event:       "alert.escalated",
		AlertID:     alert.ID,
		Title:       alert.Title,
		Description: alert.Description,
		Severity:    alert.Severity,
		Source:      alert.Source,
		Labels:      alert.Labels,
		Level:       level.LevelNumber,
		Cycle:       alert.EscalationCycle,
		SentAt:      now,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	token, err := w.sign(alert.ID, target, now)
	if err != nil {
		return err
	}

	_, err = w.breaker(u.Host).Execute(func() (interface{}, error) {
		return nil, w.post(ctx, target, token, body)
	})
	if err != nil {
		w.logger.Warn("webhook delivery failed",
			zap.String("alert_id", alert.ID),
			zap.String("host", u.Host),
			zap.Error(err))
		return err
	}
	return nil
}

func (w *WebhookNotifier) sign(alertID, audience string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    "inres",
		Subject:   alertID,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(webhookTokenTTL)),
		ID:        uuid.New().String(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(w.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign webhook token: %w", err)
	}
	return token, nil
}

func (w *WebhookNotifier) post(ctx context.Context, target, token string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned %s: %s", resp.Status, string(msg))
	}
	return nil
}

func (w *WebhookNotifier) breaker(host string) *gobreaker.CircuitBreaker {
	w.mu.Lock()
	defer w.mu.Unlock()
	cb, ok := w.breakers[host]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "webhook-" + host,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
		})
		w.breakers[host] = cb
	}
	return cb
}
