package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/phonginreallife/oncall/db"
)

// Notification is the rendered content handed to a channel.
type Notification struct {
	AlertID  string
	Title    string
	Body     string
	Severity string
	Source   string
	Level    int
}

// Channel delivers a notification to one user over one method.
type Channel interface {
	Send(ctx context.Context, user db.User, n Notification) error
}

// MultiChannelDispatcher fans a notification out over the channels
// registered for each requested method.
type MultiChannelDispatcher struct {
	channels map[string]Channel
	logger   *zap.Logger
}

func NewMultiChannelDispatcher(logger *zap.Logger) *MultiChannelDispatcher {
	return &MultiChannelDispatcher{
		channels: make(map[string]Channel),
		logger:   logger.Named("dispatcher"),
	}
}

// Register binds a channel to a notification method, replacing any previous one.
func (d *MultiChannelDispatcher) Register(method string, ch Channel) {
	d.channels[method] = ch
}

func (d *MultiChannelDispatcher) Send(ctx context.Context, target db.User, alert db.Alert, level db.EscalationLevel, methods []string) db.DeliveryResult {
	n := RenderNotification(alert, level)

	var result db.DeliveryResult
	for _, method := range methods {
		res := db.ChannelResult{UserID: target.ID, Method: method}
		ch, ok := d.channels[method]
		if !ok {
			res.Error = fmt.Sprintf("no channel configured for method %s", method)
		} else if err := ch.Send(ctx, target, n); err != nil {
			res.Error = err.Error()
			d.logger.Warn("notification delivery failed",
				zap.String("alert_id", alert.ID),
				zap.String("user_id", target.ID),
				zap.String("method", method),
				zap.Error(err))
		} else {
			res.Success = true
		}
		result.Channels = append(result.Channels, res)
	}
	return result
}

type messageData struct {
	Title       string
	Description string
	Severity    string
	Source      string
	Environment string
	Level       int
	AlertID     string
}

// RenderNotification builds the notification text for an alert at a level.
// A level MessageTemplate is a text/template over the alert fields; an
// invalid template falls back to the default body.
func RenderNotification(alert db.Alert, level db.EscalationLevel) Notification {
	n := Notification{
		AlertID:  alert.ID,
		Title:    fmt.Sprintf("[%s] %s", strings.ToUpper(alertSeverity(alert)), alert.Title),
		Body:     fmt.Sprintf("%s\nSource: %s\nEscalation level: %d", alert.Title, alert.Source, level.LevelNumber),
		Severity: alert.Severity,
		Source:   alert.Source,
		Level:    level.LevelNumber,
	}
	if level.MessageTemplate == "" {
		return n
	}

	tmpl, err := template.New("message").Option("missingkey=zero").Parse(level.MessageTemplate)
	if err != nil {
		return n
	}
	var buf bytes.Buffer
	data := messageData{
		Title:       alert.Title,
		Description: alert.Description,
		Severity:    alert.Severity,
		Source:      alert.Source,
		Environment: alert.Environment,
		Level:       level.LevelNumber,
		AlertID:     alert.ID,
	}
	if err := tmpl.Execute(&buf, data); err == nil {
		n.Body = buf.String()
	}
	return n
}

func alertSeverity(alert db.Alert) string {
	if alert.Severity == "" {
		return "alert"
	}
	return alert.Severity
}

// LogChannel writes notifications to the log instead of delivering them.
// It stands in for channels that are not configured.
type LogChannel struct {
	Method string
	Logger *zap.Logger
}

func (c *LogChannel) Send(ctx context.Context, user db.User, n Notification) error {
	c.Logger.Info("notification",
		zap.String("method", c.Method),
		zap.String("user_id", user.ID),
		zap.String("alert_id", n.AlertID),
		zap.String("title", n.Title))
	return nil
}
