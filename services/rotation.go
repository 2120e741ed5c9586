package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phonginreallife/oncall/db"
)

const (
	defaultRotationStartTime = "00:00"
	defaultRotationEndTime   = "23:59"
	defaultRotationPeriods   = 52
	minutesPerDay            = 24 * 60
)

// rotationNamespace seeds deterministic shift IDs so that generating the
// same period twice yields the same row.
var rotationNamespace = uuid.MustParse("6f1c2f4e-3b0a-4d0e-9a51-2b7f4c8e1d90")

// Generate materializes periodsAhead consecutive shifts of a rotation cycle
// starting at its first period. It is a pure function of its inputs.
func Generate(cycle db.RotationCycle, periodsAhead int) ([]db.Shift, error) {
	return GenerateRange(cycle, 0, periodsAhead)
}

// GenerateRange materializes count periods starting at period firstPeriod.
// Member assignment continues the cycle, so extending a rotation never
// rewrites earlier periods.
//
// Window rules, with length L days per period:
//   - same-day window (start < end): ends on the period's last day, L-1
//     days after its first day, at EndTime
//   - cross-day window (end <= start): ends one calendar day later, L days
//     after the first day, at EndTime
//   - continuous window (EndTime one minute before StartTime, e.g.
//     00:00-23:59 or 16:00-15:59): ends exactly where the next period
//     starts, leaving no gap
func GenerateRange(cycle db.RotationCycle, firstPeriod, count int) ([]db.Shift, error) {
	if len(cycle.MemberOrder) < 2 {
		return nil, fmt.Errorf("%w: rotation requires at least 2 members", db.ErrInvalidRotation)
	}
	if firstPeriod < 0 {
		return nil, fmt.Errorf("%w: first period must not be negative", db.ErrInvalidRotation)
	}
	if count <= 0 {
		return []db.Shift{}, nil
	}

	length, err := rotationPeriodDays(cycle)
	if err != nil {
		return nil, err
	}
	w, err := parseRotationWindow(cycle)
	if err != nil {
		return nil, err
	}

	shifts := make([]db.Shift, 0, count)
	for period := firstPeriod; period < firstPeriod+count; period++ {
		firstDay := w.startDate.AddDate(0, 0, period*length)
		start := atClock(firstDay, w.startMinute)

		var end time.Time
		switch {
		case w.continuous:
			end = atClock(firstDay.AddDate(0, 0, length), w.startMinute)
		case w.crossDay:
			lastDay := firstDay.AddDate(0, 0, length-1)
			end = atClock(lastDay.AddDate(0, 0, 1), w.endMinute)
		default:
			lastDay := firstDay.AddDate(0, 0, length-1)
			end = atClock(lastDay, w.endMinute)
		}

		shift := db.Shift{
			ID:           rotationShiftID(cycle, period),
			SchedulerID:  cycle.SchedulerID,
			GroupID:      cycle.GroupID,
			UserID:       cycle.MemberOrder[period%len(cycle.MemberOrder)],
			ShiftType:    cycle.RotationType,
			StartTime:    start,
			EndTime:      end,
			IsActive:     true,
			IsRecurring:  true,
			RotationDays: length,
			CreatedBy:    db.ActorOrSystem(cycle.CreatedBy, db.SystemUserRotation),
		}
		if cycle.ID != "" {
			cycleID := cycle.ID
			shift.RotationCycleID = &cycleID
		}
		shifts = append(shifts, shift)
	}
	return shifts, nil
}

// CurrentRotationMember returns the member the cycle assigns at t, without
// consulting overrides or persisted shifts.
func CurrentRotationMember(cycle db.RotationCycle, t time.Time) (string, bool, error) {
	length, err := rotationPeriodDays(cycle)
	if err != nil {
		return "", false, err
	}
	w, err := parseRotationWindow(cycle)
	if err != nil {
		return "", false, err
	}
	if t.Before(atClock(w.startDate, w.startMinute)) {
		return "", false, nil
	}

	days := int(t.Sub(w.startDate).Hours() / 24)
	period := days / length
	// A cross-day window can still be running from the previous period.
	first := period - 1
	if first < 0 {
		first = 0
	}
	shifts, err := GenerateRange(cycle, first, period-first+1)
	if err != nil {
		return "", false, err
	}
	for i := len(shifts) - 1; i >= 0; i-- {
		if shifts[i].Covers(t) {
			return shifts[i].UserID, true, nil
		}
	}
	return "", false, nil
}

func rotationPeriodDays(cycle db.RotationCycle) (int, error) {
	switch cycle.RotationType {
	case db.ScheduleTypeDaily:
		return 1, nil
	case db.ScheduleTypeWeekly:
		return 7, nil
	case db.ScheduleTypeCustom:
		if cycle.RotationDays <= 0 {
			return 0, fmt.Errorf("%w: custom rotation requires rotation_days > 0", db.ErrInvalidRotation)
		}
		return cycle.RotationDays, nil
	}
	return 0, fmt.Errorf("%w: unknown rotation type %q", db.ErrInvalidRotation, cycle.RotationType)
}

type rotationWindow struct {
	startDate   time.Time
	startMinute int
	endMinute   int
	crossDay    bool
	continuous  bool
}

func parseRotationWindow(cycle db.RotationCycle) (rotationWindow, error) {
	loc := time.UTC
	if cycle.Timezone != "" {
		l, err := time.LoadLocation(cycle.Timezone)
		if err != nil {
			return rotationWindow{}, fmt.Errorf("%w: %v", db.ErrInvalidRotation, err)
		}
		loc = l
	}

	startDate, err := time.ParseInLocation("2006-01-02", cycle.StartDate, loc)
	if err != nil {
		return rotationWindow{}, fmt.Errorf("%w: invalid start date format, use YYYY-MM-DD", db.ErrInvalidRotation)
	}

	startClock, endClock := cycle.StartTime, cycle.EndTime
	if startClock == "" {
		startClock = defaultRotationStartTime
	}
	if endClock == "" {
		endClock = defaultRotationEndTime
	}
	startMinute, err := parseClock(startClock)
	if err != nil {
		return rotationWindow{}, fmt.Errorf("%w: %v", db.ErrInvalidRotation, err)
	}
	endMinute, err := parseClock(endClock)
	if err != nil {
		return rotationWindow{}, fmt.Errorf("%w: %v", db.ErrInvalidRotation, err)
	}

	return rotationWindow{
		startDate:   startDate,
		startMinute: startMinute,
		endMinute:   endMinute,
		crossDay:    endMinute <= startMinute,
		continuous:  (endMinute+1)%minutesPerDay == startMinute,
	}, nil
}

func atClock(day time.Time, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minute/60, minute%60, 0, 0, day.Location())
}

func rotationShiftID(cycle db.RotationCycle, period int) string {
	key := fmt.Sprintf("%s/%s/%s/%d", cycle.ID, cycle.GroupID, cycle.StartDate, period)
	return uuid.NewSHA1(rotationNamespace, []byte(key)).String()
}

// RotationService persists rotation cycles and the shifts generated from them
type RotationService struct {
	Store  ScheduleStore
	Clock  Clock
	Logger *zap.Logger
}

func NewRotationService(store ScheduleStore, clock Clock, logger *zap.Logger) *RotationService {
	return &RotationService{Store: store, Clock: clock, Logger: logger.Named("rotation")}
}

// NewRotationCycle applies request defaults and validates the result by
// generating its first period.
func NewRotationCycle(groupID string, req db.CreateRotationCycleRequest, createdBy string) (db.RotationCycle, int, error) {
	cycle := db.RotationCycle{
		ID:           uuid.New().String(),
		GroupID:      groupID,
		SchedulerID:  req.SchedulerID,
		RotationType: req.RotationType,
		RotationDays: req.RotationDays,
		StartDate:    req.StartDate,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Timezone:     req.Timezone,
		MemberOrder:  req.MemberOrder,
		IsActive:     true,
		CreatedBy:    createdBy,
	}

	switch cycle.RotationType {
	case db.ScheduleTypeDaily:
		cycle.RotationDays = 1
	case db.ScheduleTypeWeekly:
		cycle.RotationDays = 7
	}
	if cycle.StartTime == "" {
		cycle.StartTime = defaultRotationStartTime
	}
	if cycle.EndTime == "" {
		cycle.EndTime = defaultRotationEndTime
	}

	periods := req.WeeksAhead
	if periods <= 0 {
		periods = defaultRotationPeriods
	}

	if _, err := Generate(cycle, 1); err != nil {
		return db.RotationCycle{}, 0, err
	}
	return cycle, periods, nil
}

// CreateRotationCycle creates a new rotation cycle and materializes its shifts
func (s *RotationService) CreateRotationCycle(ctx context.Context, groupID string, req db.CreateRotationCycleRequest, createdBy string) (*db.RotationCycle, []db.Shift, error) {
	cycle, periods, err := NewRotationCycle(groupID, req, createdBy)
	if err != nil {
		return nil, nil, err
	}

	now := s.Clock.Now()
	cycle.CreatedAt = now
	cycle.UpdatedAt = now

	shifts, err := Generate(cycle, periods)
	if err != nil {
		return nil, nil, err
	}
	stampShifts(shifts, now)

	if err := s.Store.CreateRotationCycle(ctx, &cycle); err != nil {
		return nil, nil, fmt.Errorf("failed to create rotation cycle: %w", err)
	}
	if err := s.Store.CreateShifts(ctx, shifts); err != nil {
		return nil, nil, fmt.Errorf("failed to create rotation shifts: %w", err)
	}

	s.Logger.Info("rotation cycle created",
		zap.String("cycle_id", cycle.ID),
		zap.String("group_id", groupID),
		zap.Int("shifts", len(shifts)))
	return &cycle, shifts, nil
}

// PreviewRotation generates periods for a request without persisting anything
func (s *RotationService) PreviewRotation(groupID string, req db.CreateRotationCycleRequest) ([]db.RotationPreview, error) {
	cycle, periods, err := NewRotationCycle(groupID, req, "")
	if err != nil {
		return nil, err
	}
	shifts, err := Generate(cycle, periods)
	if err != nil {
		return nil, err
	}

	preview := make([]db.RotationPreview, len(shifts))
	for i, sh := range shifts {
		preview[i] = db.RotationPreview{
			Period:    i + 1,
			UserID:    sh.UserID,
			StartTime: sh.StartTime,
			EndTime:   sh.EndTime,
		}
	}
	return preview, nil
}

// ExtendRotation appends periods after the shifts already generated for a
// cycle. Existing shifts and the overrides pointing at them are untouched.
func (s *RotationService) ExtendRotation(ctx context.Context, cycleID string, periods int) ([]db.Shift, error) {
	cycle, err := s.Store.GetRotationCycle(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rotation cycle: %w", err)
	}
	if !cycle.IsActive {
		return nil, fmt.Errorf("%w: rotation cycle %s is inactive", db.ErrInvalidRotation, cycleID)
	}

	existing, err := s.Store.CountRotationShifts(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to count rotation shifts: %w", err)
	}

	shifts, err := GenerateRange(cycle, existing, periods)
	if err != nil {
		return nil, err
	}
	if len(shifts) == 0 {
		return shifts, nil
	}
	stampShifts(shifts, s.Clock.Now())

	if err := s.Store.CreateShifts(ctx, shifts); err != nil {
		return nil, fmt.Errorf("failed to create rotation shifts: %w", err)
	}
	return shifts, nil
}

// DeactivateRotationCycle deactivates the cycle and its future shifts only
func (s *RotationService) DeactivateRotationCycle(ctx context.Context, cycleID string) (int64, error) {
	n, err := s.Store.DeactivateRotationCycle(ctx, cycleID, s.Clock.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate rotation cycle: %w", err)
	}
	s.Logger.Info("rotation cycle deactivated", zap.String("cycle_id", cycleID), zap.Int64("future_shifts", n))
	return n, nil
}

// GetCurrentRotationMember returns who the cycle puts on call right now
func (s *RotationService) GetCurrentRotationMember(ctx context.Context, cycleID string) (string, error) {
	cycle, err := s.Store.GetRotationCycle(ctx, cycleID)
	if err != nil {
		return "", fmt.Errorf("failed to get rotation cycle: %w", err)
	}
	userID, ok, err := CurrentRotationMember(cycle, s.Clock.Now())
	if err != nil {
		return "", err
	}
	if !ok {
		return "", db.ErrNoOnCall
	}
	return userID, nil
}

func stampShifts(shifts []db.Shift, now time.Time) {
	for i := range shifts {
		shifts[i].CreatedAt = now
		shifts[i].UpdatedAt = now
	}
}
