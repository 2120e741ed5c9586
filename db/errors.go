package db

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrNoOnCall means no shift covers the requested instant.
	ErrNoOnCall = fmt.Errorf("no one on call: %w", ErrNotFound)

	ErrNoEscalationPolicy = errors.New("alert has no escalation policy")
	ErrInvalidPolicy      = errors.New("invalid escalation policy")
	ErrInvalidRotation    = errors.New("invalid rotation cycle")
	ErrInvalidOverride    = errors.New("invalid schedule override")
	ErrInvalidCondition   = errors.New("invalid routing condition")
	ErrEscalationActive   = errors.New("escalation still active")
	ErrAlertExists        = errors.New("alert already exists")
	ErrAlertResolved      = errors.New("alert is resolved")
	ErrDuplicate          = errors.New("already exists")
)
