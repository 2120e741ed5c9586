package services

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/phonginreallife/oncall/db"
)

var errNoDeviceToken = errors.New("user has no registered device token")

// fcmSender is the part of *messaging.Client the channel uses.
type fcmSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMChannel delivers push notifications through Firebase Cloud Messaging.
type FCMChannel struct {
	client fcmSender
	logger *zap.Logger
}

// NewFCMChannel initializes the Firebase Admin SDK from a service account
// key file.
func NewFCMChannel(ctx context.Context, credentialsFile string, logger *zap.Logger) (*FCMChannel, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging: %w", err)
	}
	return &FCMChannel{client: client, logger: logger.Named("fcm")}, nil
}

func (c *FCMChannel) Send(ctx context.Context, user db.User, n Notification) error {
	if user.FCMToken == "" {
		return errNoDeviceToken
	}

	messageID, err := c.client.Send(ctx, buildAlertMessage(user.FCMToken, n))
	if err != nil {
		return fmt.Errorf("failed to send FCM message: %w", err)
	}
	c.logger.Debug("push notification sent",
		zap.String("user_id", user.ID),
		zap.String("alert_id", n.AlertID),
		zap.String("message_id", messageID))
	return nil
}

func buildAlertMessage(token string, n Notification) *messaging.Message {
	data := map[string]string{
		"alert_id": n.AlertID,
		"severity": n.Severity,
		"source":   n.Source,
		"level":    fmt.Sprintf("%d", n.Level),
		"type":     "alert",
	}
	badge := 1
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Icon:         "ic_notification",
				Color:        getColorBySeverity(n.Severity),
				Sound:        "default",
				ChannelID:    "high_importance_channel",
				Priority:     messaging.PriorityHigh,
				DefaultSound: true,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: n.Title,
						Body:  n.Body,
					},
					Badge: &badge,
					Sound: "default",
					CustomData: map[string]interface{}{
						"alert_id": n.AlertID,
						"type":     "alert",
					},
				},
			},
		},
	}
}

func getColorBySeverity(severity string) string {
	switch severity {
	case "critical":
		return "#DC2626"
	case "high":
		return "#EA580C"
	case "medium", "warning":
		return "#D97706"
	case "low", "info":
		return "#2563EB"
	default:
		return "#6B7280"
	}
}
