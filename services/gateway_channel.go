package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/phonginreallife/oncall/db"
)

// GatewayChannel relays email and SMS notifications to an HTTP notification
// gateway. Calls go through a circuit breaker so a failing gateway does not
// stall every escalation.
type GatewayChannel struct {
	method     string
	gatewayURL string
	token      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func NewGatewayChannel(method, gatewayURL, token string) *GatewayChannel {
	return &GatewayChannel{
		method:     method,
		gatewayURL: gatewayURL,
		token:      token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "notification-gateway-" + method,
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

type gatewayMessage struct {
	Channel  string `json:"channel"`
	To       string `json:"to"`
	UserID   string `json:"user_id"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	AlertID  string `json:"alert_id"`
	Severity string `json:"severity,omitempty"`
}

func (c *GatewayChannel) Send(ctx context.Context, user db.User, n Notification) error {
	to := user.Email
	if c.method == db.NotificationMethodSMS {
		to = user.Phone
	}
	if to == "" {
		return fmt.Errorf("user %s has no %s address", user.ID, c.method)
	}

	payload, err := json.Marshal(gatewayMessage{
		Channel:  c.method,
		To:       to,
		UserID:   user.ID,
		Subject:  n.Title,
		Body:     n.Body,
		AlertID:  n.AlertID,
		Severity: n.Severity,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.post(ctx, payload)
	})
	return err
}

func (c *GatewayChannel) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL+"/notifications/send", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("send notification failed: %s - %s", resp.Status, string(body))
	}
	return nil
}
