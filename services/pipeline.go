package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phonginreallife/oncall/db"
)

// AlertPipeline runs a normalized alert through routing and starts its
// escalation: store, Route, record the matched group and policy, ProcessAlert.
type AlertPipeline struct {
	Alerts     AlertStore
	Routing    *RoutingService
	Escalation *EscalationService
	Clock      Clock
	Logger     *zap.Logger
}

func NewAlertPipeline(alerts AlertStore, routing *RoutingService, escalation *EscalationService, clock Clock, logger *zap.Logger) *AlertPipeline {
	return &AlertPipeline{
		Alerts:     alerts,
		Routing:    routing,
		Escalation: escalation,
		Clock:      clock,
		Logger:     logger.Named("pipeline"),
	}
}

// IngestResult is the outcome of one alert passing through the pipeline.
type IngestResult struct {
	Alert     db.Alert          `json:"alert"`
	Routing   *db.RoutingResult `json:"routing,omitempty"`
	Escalated bool              `json:"escalated"`
}

// Ingest stores the alert before routing it, so a rejected duplicate leaves
// no routing decision behind and a routing failure never drops the alert;
// the routing error is returned alongside the stored alert.
func (p *AlertPipeline) Ingest(ctx context.Context, alert db.Alert) (*IngestResult, error) {
	now := p.Clock.Now()
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = now
	}
	alert.UpdatedAt = now
	if alert.Status == "" {
		alert.Status = db.AlertStatusTriggered
	}
	alert.EscalationStatus = db.EscalationStatusNone

	if err := p.Alerts.CreateAlert(ctx, &alert); err != nil {
		return nil, fmt.Errorf("failed to store alert: %w", err)
	}
	result := &IngestResult{Alert: alert}

	routing, err := p.Routing.Route(ctx, alert)
	if err != nil {
		p.Logger.Error("routing failed, alert left unrouted",
			zap.String("alert_id", alert.ID),
			zap.Error(err))
		return result, fmt.Errorf("failed to route alert: %w", err)
	}
	result.Routing = routing
	if routing.Matched {
		if err := p.Alerts.AssignAlertRoute(ctx, alert.ID, routing.TargetGroupID, routing.EscalationPolicyID, p.Clock.Now()); err != nil {
			return result, fmt.Errorf("failed to assign route: %w", err)
		}
		alert.GroupID = routing.TargetGroupID
		alert.EscalationPolicyID = routing.EscalationPolicyID
		result.Alert = alert
	}

	if alert.EscalationPolicyID == "" {
		p.Logger.Info("alert stored without escalation",
			zap.String("alert_id", alert.ID),
			zap.Bool("matched", routing.Matched))
		return result, nil
	}

	if err := p.Escalation.ProcessAlert(ctx, alert); err != nil {
		if errors.Is(err, db.ErrInvalidPolicy) || errors.Is(err, db.ErrNotFound) {
			p.Logger.Warn("escalation not started",
				zap.String("alert_id", alert.ID),
				zap.String("policy_id", alert.EscalationPolicyID),
				zap.Error(err))
		}
		return result, fmt.Errorf("failed to start escalation: %w", err)
	}
	result.Escalated = true
	if stored, err := p.Escalation.Store.GetAlert(ctx, alert.ID); err == nil {
		result.Alert = stored
	}
	return result, nil
}
