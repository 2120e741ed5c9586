package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	DefaultActionQueue = "inres:escalation:actions"

	ActionAcknowledge = "acknowledge"
	ActionStop        = "stop"
	ActionRetrigger   = "retrigger"
	ActionResolve     = "resolve"
)

var errUnknownAction = errors.New("unknown escalation action")

// ActionMessage is an escalation command pushed by chat or mobile
// integrations, e.g. an acknowledge button press.
type ActionMessage struct {
	Action    string    `json:"action"`
	AlertID   string    `json:"alert_id"`
	UserID    string    `json:"user_id,omitempty"`
	Source    string    `json:"source,omitempty"` // slack, mobile, api
	CreatedAt time.Time `json:"created_at"`
}

// EscalationActions is the part of the escalation engine the action queue
// drives.
type EscalationActions interface {
	Acknowledge(ctx context.Context, alertID, userID string) error
	Stop(ctx context.Context, alertID string) error
	Retrigger(ctx context.Context, alertID string) error
	Resolve(ctx context.Context, alertID, userID string) error
}

// ActionWorker consumes ActionMessages from a Redis list. Messages that
// cannot be applied are moved to the "<queue>:failed" list.
type ActionWorker struct {
	Redis        *redis.Client
	Queue        string
	Actions      EscalationActions
	Logger       *zap.Logger
	BlockTimeout time.Duration
}

func NewActionWorker(client *redis.Client, queue string, actions EscalationActions, logger *zap.Logger) *ActionWorker {
	if queue == "" {
		queue = DefaultActionQueue
	}
	return &ActionWorker{
		Redis:        client,
		Queue:        queue,
		Actions:      actions,
		Logger:       logger.Named("action-worker"),
		BlockTimeout: 5 * time.Second,
	}
}

// Enqueue pushes an action for a worker to apply.
func (w *ActionWorker) Enqueue(ctx context.Context, msg ActionMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}
	if err := w.Redis.LPush(ctx, w.Queue, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue action: %w", err)
	}
	return nil
}

// Run processes actions until ctx is cancelled.
func (w *ActionWorker) Run(ctx context.Context) error {
	w.Logger.Info("action worker started", zap.String("queue", w.Queue))
	for {
		if _, err := w.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				w.Logger.Info("action worker stopped")
				return nil
			}
			w.Logger.Error("failed to read action queue", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessNext waits up to BlockTimeout for one action and applies it. It
// reports whether a message was consumed.
func (w *ActionWorker) ProcessNext(ctx context.Context) (bool, error) {
	res, err := w.Redis.BRPop(ctx, w.BlockTimeout, w.Queue).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	payload := res[1]

	if err := w.apply(ctx, payload); err != nil {
		w.Logger.Warn("escalation action failed",
			zap.String("payload", payload),
			zap.Error(err))
		if pushErr := w.Redis.LPush(ctx, w.Queue+":failed", payload).Err(); pushErr != nil {
			w.Logger.Error("failed to record failed action", zap.Error(pushErr))
		}
	}
	return true, nil
}

func (w *ActionWorker) apply(ctx context.Context, payload string) error {
	var msg ActionMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return fmt.Errorf("failed to decode action: %w", err)
	}
	if msg.AlertID == "" {
		return errors.New("action is missing alert_id")
	}

	var err error
	switch msg.Action {
	case ActionAcknowledge:
		err = w.Actions.Acknowledge(ctx, msg.AlertID, msg.UserID)
	case ActionStop:
		err = w.Actions.Stop(ctx, msg.AlertID)
	case ActionRetrigger:
		err = w.Actions.Retrigger(ctx, msg.AlertID)
	case ActionResolve:
		err = w.Actions.Resolve(ctx, msg.AlertID, msg.UserID)
	default:
		return fmt.Errorf("%w: %q", errUnknownAction, msg.Action)
	}
	if err != nil {
		return err
	}

	w.Logger.Info("escalation action applied",
		zap.String("action", msg.Action),
		zap.String("alert_id", msg.AlertID),
		zap.String("user_id", msg.UserID),
		zap.String("source", msg.Source))
	return nil
}
