// Package memory keeps every entity of the decision core in process memory.
// It backs the property tests, the CLI dry runs and single-node deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/phonginreallife/oncall/db"
)

type Store struct {
	mu sync.RWMutex

	users       map[string]db.User
	alerts      map[string]db.Alert
	groups      map[string]db.Group
	members     map[string][]db.GroupMember
	policies    map[string]db.EscalationPolicy
	escalations []db.AlertEscalation

	tables    map[string]db.AlertRoutingTable
	rules     map[string][]db.AlertRoutingRule
	routeLogs []db.AlertRouteLog

	shifts    map[string]db.Shift
	overrides map[string]db.ScheduleOverride
	cycles    map[string]db.RotationCycle
}

func NewStore() *Store {
	return &Store{
		users:     make(map[string]db.User),
		alerts:    make(map[string]db.Alert),
		groups:    make(map[string]db.Group),
		members:   make(map[string][]db.GroupMember),
		policies:  make(map[string]db.EscalationPolicy),
		tables:    make(map[string]db.AlertRoutingTable),
		rules:     make(map[string][]db.AlertRoutingRule),
		shifts:    make(map[string]db.Shift),
		overrides: make(map[string]db.ScheduleOverride),
		cycles:    make(map[string]db.RotationCycle),
	}
}

// SEEDING

func (s *Store) PutUser(u db.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) PutAlert(a db.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.EscalationStatus == "" {
		a.EscalationStatus = db.EscalationStatusNone
	}
	s.alerts[a.ID] = a
}

func (s *Store) PutGroup(g db.Group, members ...db.GroupMember) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
	s.members[g.ID] = append([]db.GroupMember(nil), members...)
}

func (s *Store) PutPolicy(p db.EscalationPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.ID] = p
}

func (s *Store) PutShift(sh db.Shift) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shifts[sh.ID] = sh
}

// ALERTS

func (s *Store) CreateAlert(ctx context.Context, alert *db.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.alerts[alert.ID]; exists {
		return db.ErrAlertExists
	}
	s.alerts[alert.ID] = *alert
	return nil
}

func (s *Store) AssignAlertRoute(ctx context.Context, alertID, groupID, policyID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return db.ErrNotFound
	}
	a.GroupID = groupID
	a.EscalationPolicyID = policyID
	a.UpdatedAt = at
	s.alerts[alertID] = a
	return nil
}

// ROUTING

func (s *Store) ListActiveRoutingTables(ctx context.Context) ([]db.AlertRoutingTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tables []db.AlertRoutingTable
	for _, t := range s.tables {
		if t.IsActive {
			tables = append(tables, t)
		}
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].ID < tables[j].ID })
	return tables, nil
}

func (s *Store) ListActiveRoutingRules(ctx context.Context, tableID string) ([]db.AlertRoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rules []db.AlertRoutingRule
	for _, r := range s.rules[tableID] {
		if r.IsActive {
			rules = append(rules, r)
		}
	}
	return rules, nil
}

func (s *Store) CreateRouteLog(ctx context.Context, entry *db.AlertRouteLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routeLogs = append(s.routeLogs, *entry)
	return nil
}

func (s *Store) ListRouteLogs(ctx context.Context, alertID string) ([]db.AlertRouteLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var logs []db.AlertRouteLog
	for i := len(s.routeLogs) - 1; i >= 0; i-- {
		if s.routeLogs[i].AlertID == alertID {
			logs = append(logs, s.routeLogs[i])
		}
	}
	return logs, nil
}

func (s *Store) CreateRoutingTable(ctx context.Context, table *db.AlertRoutingTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table.ID] = *table
	return nil
}

func (s *Store) CreateRoutingRule(ctx context.Context, rule *db.AlertRoutingRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[rule.RoutingTableID]; !ok {
		return db.ErrNotFound
	}
	s.rules[rule.RoutingTableID] = append(s.rules[rule.RoutingTableID], *rule)
	return nil
}

// ESCALATION

func (s *Store) GetAlert(ctx context.Context, alertID string) (db.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return db.Alert{}, db.ErrNotFound
	}
	return a, nil
}

func (s *Store) ListEscalatingAlerts(ctx context.Context) ([]db.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var alerts []db.Alert
	for _, a := range s.alerts {
		if db.IsActiveEscalation(a.EscalationStatus) && a.EscalationPolicyID != "" {
			alerts = append(alerts, a)
		}
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].CreatedAt.Before(alerts[j].CreatedAt) })
	return alerts, nil
}

func (s *Store) TransitionAlert(ctx context.Context, alertID string, from, to db.EscalationState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return false, db.ErrNotFound
	}
	cur := a.EscalationState()
	if cur.Status != from.Status || cur.Level != from.Level || cur.Cycle != from.Cycle || cur.Step != from.Step {
		return false, nil
	}
	if from.AlertStatus != "" && cur.AlertStatus != from.AlertStatus {
		return false, nil
	}
	a.ApplyEscalationState(to)
	a.UpdatedAt = time.Now().UTC()
	s.alerts[alertID] = a
	return true, nil
}

func (s *Store) GetPolicy(ctx context.Context, policyID string) (db.EscalationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[policyID]
	if !ok {
		return db.EscalationPolicy{}, db.ErrNotFound
	}
	levels := append([]db.EscalationLevel(nil), p.Levels...)
	sort.Slice(levels, func(i, j int) bool { return levels[i].LevelNumber < levels[j].LevelNumber })
	p.Levels = levels
	return p, nil
}

func (s *Store) GetGroup(ctx context.Context, groupID string) (db.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return db.Group{}, db.ErrNotFound
	}
	return g, nil
}

func (s *Store) ListActiveGroupMembers(ctx context.Context, groupID string) ([]db.GroupMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var members []db.GroupMember
	for _, m := range s.members[groupID] {
		if m.IsActive {
			members = append(members, m)
		}
	}
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].EscalationOrder != members[j].EscalationOrder {
			return members[i].EscalationOrder < members[j].EscalationOrder
		}
		return members[i].UserID < members[j].UserID
	})
	return members, nil
}

func (s *Store) NextRoundRobinIndex(ctx context.Context, groupID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return 0, db.ErrNotFound
	}
	idx := g.RoundRobinCounter
	g.RoundRobinCounter++
	s.groups[groupID] = g
	return idx, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (db.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return db.User{}, db.ErrNotFound
	}
	return u, nil
}

// DIRECTORY

func (s *Store) CreateUser(ctx context.Context, user *db.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return db.ErrDuplicate
	}
	s.users[user.ID] = *user
	return nil
}

func (s *Store) UpdateUserFCMToken(ctx context.Context, userID, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return db.ErrNotFound
	}
	u.FCMToken = token
	u.UpdatedAt = at
	s.users[userID] = u
	return nil
}

func (s *Store) CreateGroup(ctx context.Context, group *db.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[group.ID] = *group
	return nil
}

func (s *Store) AddGroupMember(ctx context.Context, member *db.GroupMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[member.GroupID]; !ok {
		return db.ErrNotFound
	}
	for _, m := range s.members[member.GroupID] {
		if m.UserID == member.UserID {
			return db.ErrDuplicate
		}
	}
	s.members[member.GroupID] = append(s.members[member.GroupID], *member)
	return nil
}

func (s *Store) CreatePolicy(ctx context.Context, policy *db.EscalationPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := *policy
	p.Levels = append([]db.EscalationLevel(nil), policy.Levels...)
	s.policies[p.ID] = p
	return nil
}

func (s *Store) CreateAlertEscalation(ctx context.Context, escalation *db.AlertEscalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalations = append(s.escalations, *escalation)
	return nil
}

func (s *Store) UpdateAlertEscalation(ctx context.Context, escalation *db.AlertEscalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.escalations {
		if s.escalations[i].ID == escalation.ID {
			s.escalations[i] = *escalation
			return nil
		}
	}
	return db.ErrNotFound
}

func (s *Store) MarkAlertEscalations(ctx context.Context, alertID string, level, cycle int, fromStatuses []string, toStatus string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.escalations {
		e := &s.escalations[i]
		if e.AlertID != alertID || e.EscalationLevel != level || e.EscalationCycle != cycle {
			continue
		}
		if contains(fromStatuses, e.Status) {
			e.Status = toStatus
			e.UpdatedAt = at
		}
	}
	return nil
}

func (s *Store) AcknowledgeAlertEscalations(ctx context.Context, alertID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.escalations {
		e := &s.escalations[i]
		if e.AlertID != alertID {
			continue
		}
		if e.Status != db.AlertEscalationStatusSent && e.Status != db.AlertEscalationStatusExecuting {
			continue
		}
		ackAt := at
		e.Status = db.AlertEscalationStatusAcknowledged
		e.AcknowledgedAt = &ackAt
		e.AcknowledgedBy = userID
		e.ResponseTimeSeconds = int(at.Sub(e.CreatedAt).Seconds())
		e.UpdatedAt = at
	}
	return nil
}

func (s *Store) ListAlertEscalations(ctx context.Context, alertID string) ([]db.AlertEscalation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []db.AlertEscalation
	for _, e := range s.escalations {
		if e.AlertID == alertID {
			out = append(out, e)
		}
	}
	return out, nil
}

// SCHEDULES

func (s *Store) ListShiftsAt(ctx context.Context, ownerID string, at time.Time) ([]db.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var shifts []db.Shift
	for _, sh := range s.shifts {
		if !sh.IsActive || (sh.SchedulerID != ownerID && sh.GroupID != ownerID) {
			continue
		}
		if sh.Covers(at) {
			shifts = append(shifts, sh)
		}
	}
	sort.Slice(shifts, func(i, j int) bool { return shifts[i].ID < shifts[j].ID })
	return shifts, nil
}

func (s *Store) ListOverridesForShift(ctx context.Context, shiftID string) ([]db.ScheduleOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []db.ScheduleOverride
	for _, o := range s.overrides {
		if o.OriginalScheduleID == shiftID && o.IsActive {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OverrideStartTime.Before(out[j].OverrideStartTime) })
	return out, nil
}

func (s *Store) GetShift(ctx context.Context, shiftID string) (db.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shifts[shiftID]
	if !ok || !sh.IsActive {
		return db.Shift{}, db.ErrNotFound
	}
	return sh, nil
}

func (s *Store) CreateOverride(ctx context.Context, override *db.ScheduleOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[override.ID] = *override
	return nil
}

func (s *Store) DeactivateOverride(ctx context.Context, overrideID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.overrides[overrideID]
	if !ok {
		return db.ErrNotFound
	}
	o.IsActive = false
	o.UpdatedAt = at
	s.overrides[overrideID] = o
	return nil
}

func (s *Store) ListOverrides(ctx context.Context, groupID string) ([]db.ScheduleOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []db.ScheduleOverride
	for _, o := range s.overrides {
		if o.GroupID == groupID && o.IsActive {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OverrideStartTime.Before(out[j].OverrideStartTime) })
	return out, nil
}

func (s *Store) CreateRotationCycle(ctx context.Context, cycle *db.RotationCycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles[cycle.ID] = *cycle
	return nil
}

func (s *Store) GetRotationCycle(ctx context.Context, cycleID string) (db.RotationCycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cycles[cycleID]
	if !ok {
		return db.RotationCycle{}, db.ErrNotFound
	}
	return c, nil
}

func (s *Store) CreateShifts(ctx context.Context, shifts []db.Shift) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sh := range shifts {
		s.shifts[sh.ID] = sh
	}
	return nil
}

func (s *Store) CountRotationShifts(ctx context.Context, cycleID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sh := range s.shifts {
		if sh.RotationCycleID != nil && *sh.RotationCycleID == cycleID {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeactivateRotationCycle(ctx context.Context, cycleID string, from time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[cycleID]
	if !ok {
		return 0, db.ErrNotFound
	}
	c.IsActive = false
	c.UpdatedAt = from
	s.cycles[cycleID] = c

	var n int64
	for id, sh := range s.shifts {
		if sh.RotationCycleID == nil || *sh.RotationCycleID != cycleID || !sh.IsActive {
			continue
		}
		if sh.StartTime.After(from) {
			sh.IsActive = false
			sh.UpdatedAt = from
			s.shifts[id] = sh
			n++
		}
	}
	return n, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
