package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/store/memory"
	"github.com/phonginreallife/oncall/store/postgres"
	"github.com/phonginreallife/oncall/timers"
)

var (
	_ AlertStore      = (*memory.Store)(nil)
	_ DirectoryStore  = (*memory.Store)(nil)
	_ RoutingStore    = (*memory.Store)(nil)
	_ EscalationStore = (*memory.Store)(nil)
	_ ScheduleStore   = (*memory.Store)(nil)
	_ TimerQueue      = (*timers.MemoryQueue)(nil)

	_ AlertStore      = (*postgres.Store)(nil)
	_ DirectoryStore  = (*postgres.Store)(nil)
	_ RoutingStore    = (*postgres.Store)(nil)
	_ EscalationStore = (*postgres.Store)(nil)
	_ ScheduleStore   = (*postgres.Store)(nil)
	_ TimerQueue      = (*postgres.TimerQueue)(nil)
	_ TimerQueue      = (*timers.RedisQueue)(nil)
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type sentNotification struct {
	UserID  string
	AlertID string
	Level   int
	Methods []string
}

// recordingDispatcher records every send and fails for the users in failFor.
type recordingDispatcher struct {
	mu      sync.Mutex
	sent    []sentNotification
	failFor map[string]bool
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{failFor: make(map[string]bool)}
}

func (d *recordingDispatcher) Send(ctx context.Context, target db.User, alert db.Alert, level db.EscalationLevel, methods []string) db.DeliveryResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentNotification{UserID: target.ID, AlertID: alert.ID, Level: level.LevelNumber, Methods: methods})
	var res db.DeliveryResult
	for _, m := range methods {
		c := db.ChannelResult{UserID: target.ID, Method: m, Success: !d.failFor[target.ID]}
		if !c.Success {
			c.Error = "delivery refused"
		}
		res.Channels = append(res.Channels, c)
	}
	return res
}

func (d *recordingDispatcher) users() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.sent))
	for i, s := range d.sent {
		out[i] = s.UserID
	}
	return out
}

type fakeExternal struct {
	mu      sync.Mutex
	targets []string
	err     error
}

func (f *fakeExternal) Notify(ctx context.Context, target string, alert db.Alert, level db.EscalationLevel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	return f.err
}

var errWebhookDown = errors.New("webhook down")

type escalationEnv struct {
	store      *memory.Store
	clock      *fakeClock
	timers     *timers.MemoryQueue
	dispatcher *recordingDispatcher
	external   *fakeExternal
	logs       *observer.ObservedLogs
	svc        *EscalationService
}

func newEscalationEnv(t *testing.T) *escalationEnv {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	env := &escalationEnv{
		store:      memory.NewStore(),
		clock:      newFakeClock(t0),
		timers:     timers.NewMemoryQueue(),
		dispatcher: newRecordingDispatcher(),
		external:   &fakeExternal{},
		logs:       logs,
	}
	resolver := NewScheduleResolver(env.store, logger)
	env.svc = NewEscalationService(env.store, resolver, env.dispatcher, env.external,
		env.timers, env.clock, logger, NewMetrics(prometheus.NewRegistry()))
	return env
}

// advance fires every timer due up to at, each at its own due time, and
// leaves the clock at at.
func (e *escalationEnv) advance(t *testing.T, at time.Time) {
	t.Helper()
	ctx := context.Background()
	for {
		due, err := e.timers.Due(ctx, at, 1)
		if err != nil {
			t.Fatalf("due: %v", err)
		}
		if len(due) == 0 {
			e.clock.Set(at)
			return
		}
		e.clock.Set(due[0].DueAt)
		if err := e.svc.HandleTimer(ctx, due[0]); err != nil {
			t.Fatalf("handle timer: %v", err)
		}
	}
}

func (e *escalationEnv) alert(t *testing.T, id string) db.Alert {
	t.Helper()
	a, err := e.store.GetAlert(context.Background(), id)
	if err != nil {
		t.Fatalf("get alert %s: %v", id, err)
	}
	return a
}

func activeUser(id string) db.User {
	return db.User{ID: id, Name: id, Email: id + "@example.com", IsActive: true}
}

func member(groupID, userID string, order int) db.GroupMember {
	return db.GroupMember{ID: groupID + "-" + userID, GroupID: groupID, UserID: userID, Role: db.GroupMemberRoleMember, EscalationOrder: order, IsActive: true}
}

func userLevel(n int, userID string, timeout int) db.EscalationLevel {
	return db.EscalationLevel{LevelNumber: n, TargetType: db.EscalationTargetUser, TargetID: userID, TimeoutMinutes: timeout, NotificationMethods: []string{db.NotificationMethodFCM}}
}

// interleavingStore runs a one-shot hook at a chosen point of an
// EscalationStore call, standing in for another worker acting concurrently.
type interleavingStore struct {
	*memory.Store
	afterList        func()
	beforeTransition func()
	afterTransition  func(to db.EscalationState)
}

func (e *escalationEnv) interleave() *interleavingStore {
	s := &interleavingStore{Store: e.store}
	e.svc.Store = s
	return s
}

func (s *interleavingStore) ListEscalatingAlerts(ctx context.Context) ([]db.Alert, error) {
	alerts, err := s.Store.ListEscalatingAlerts(ctx)
	if hook := s.afterList; hook != nil {
		s.afterList = nil
		hook()
	}
	return alerts, err
}

func (s *interleavingStore) TransitionAlert(ctx context.Context, alertID string, from, to db.EscalationState) (bool, error) {
	if hook := s.beforeTransition; hook != nil {
		s.beforeTransition = nil
		hook()
	}
	ok, err := s.Store.TransitionAlert(ctx, alertID, from, to)
	if hook := s.afterTransition; hook != nil && ok {
		s.afterTransition = nil
		hook(to)
	}
	return ok, err
}
