package services

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/phonginreallife/oncall/db"
)

// ConditionKind tags a node of the routing condition tree.
type ConditionKind string

const (
	ConditionAnd     ConditionKind = "and"
	ConditionOr      ConditionKind = "or"
	ConditionNot     ConditionKind = "not"
	ConditionMatch   ConditionKind = "match"
	ConditionDefault ConditionKind = "default"
)

// Condition is one node of a compiled match-condition tree. Match nodes
// carry Field/Operator/Value; logical nodes carry Children.
type Condition struct {
	Kind     ConditionKind `json:"kind"`
	Field    string        `json:"field,omitempty"`
	Operator string        `json:"operator,omitempty"`
	Value    interface{}   `json:"value,omitempty"`
	Children []Condition   `json:"children,omitempty"`
}

func And(children ...Condition) Condition {
	return Condition{Kind: ConditionAnd, Children: children}
}

func Or(children ...Condition) Condition {
	return Condition{Kind: ConditionOr, Children: children}
}

func Not(child Condition) Condition {
	return Condition{Kind: ConditionNot, Children: []Condition{child}}
}

func Match(field, operator string, value interface{}) Condition {
	return Condition{Kind: ConditionMatch, Field: field, Operator: operator, Value: value}
}

func Equals(field string, value interface{}) Condition {
	return Match(field, db.RoutingOperatorEquals, value)
}

func In(field string, values ...interface{}) Condition {
	return Match(field, db.RoutingOperatorIn, values)
}

func Default() Condition {
	return Condition{Kind: ConditionDefault}
}

var knownOperators = map[string]bool{
	db.RoutingOperatorEquals:      true,
	db.RoutingOperatorNotEquals:   true,
	db.RoutingOperatorIn:          true,
	db.RoutingOperatorNotIn:       true,
	db.RoutingOperatorContains:    true,
	db.RoutingOperatorNotContains: true,
	db.RoutingOperatorRegex:       true,
	db.RoutingOperatorGreaterThan: true,
	db.RoutingOperatorLessThan:    true,
	db.RoutingOperatorDefault:     true,
}

// CompileMatchConditions turns the stored JSON form of a rule's match
// conditions into a Condition tree. Two encodings are accepted: the tagged
// tree itself (an object carrying "kind") and the flat map form
//
//	{"severity": ["critical", "high"], "labels.team": {"operator": "equals", "value": "db"},
//	 "or": [{...}, {...}], "not": {...}, "default": true}
//
// where top-level keys are combined with AND. An empty map matches every alert.
func CompileMatchConditions(raw map[string]interface{}) (Condition, error) {
	if len(raw) == 0 {
		return And(), nil
	}

	if _, tagged := raw["kind"]; tagged {
		var cond Condition
		b, err := json.Marshal(raw)
		if err != nil {
			return Condition{}, fmt.Errorf("%w: %v", db.ErrInvalidCondition, err)
		}
		if err := json.Unmarshal(b, &cond); err != nil {
			return Condition{}, fmt.Errorf("%w: %v", db.ErrInvalidCondition, err)
		}
		if err := cond.Validate(); err != nil {
			return Condition{}, err
		}
		return cond, nil
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	children := make([]Condition, 0, len(keys))
	for _, key := range keys {
		child, err := compileEntry(key, raw[key])
		if err != nil {
			return Condition{}, err
		}
		children = append(children, child)
	}

	if len(children) == 1 {
		return children[0], nil
	}
	return And(children...), nil
}

func compileEntry(key string, value interface{}) (Condition, error) {
	switch key {
	case db.RoutingLogicalAnd, db.RoutingLogicalOr:
		items, ok := value.([]interface{})
		if !ok {
			return Condition{}, fmt.Errorf("%w: %q expects a list of conditions", db.ErrInvalidCondition, key)
		}
		children := make([]Condition, 0, len(items))
		for _, item := range items {
			m, ok := item.(map[string]interface{})
			if !ok {
				return Condition{}, fmt.Errorf("%w: %q items must be objects", db.ErrInvalidCondition, key)
			}
			child, err := CompileMatchConditions(m)
			if err != nil {
				return Condition{}, err
			}
			children = append(children, child)
		}
		if key == db.RoutingLogicalAnd {
			return And(children...), nil
		}
		return Or(children...), nil

	case db.RoutingLogicalNot:
		m, ok := value.(map[string]interface{})
		if !ok {
			return Condition{}, fmt.Errorf("%w: \"not\" expects an object", db.ErrInvalidCondition)
		}
		child, err := CompileMatchConditions(m)
		if err != nil {
			return Condition{}, err
		}
		return Not(child), nil

	case db.RoutingOperatorDefault:
		if b, ok := value.(bool); ok && b {
			return Default(), nil
		}
		return Condition{}, fmt.Errorf("%w: \"default\" must be true", db.ErrInvalidCondition)
	}

	if !isKnownField(key) {
		return Condition{}, fmt.Errorf("%w: unknown field %q", db.ErrInvalidCondition, key)
	}

	var cond Condition
	switch v := value.(type) {
	case string, float64, int, bool:
		cond = Equals(key, v)
	case []interface{}:
		cond = Match(key, db.RoutingOperatorIn, v)
	case map[string]interface{}:
		op, ok := v["operator"].(string)
		if !ok {
			return Condition{}, fmt.Errorf("%w: field %q is missing an operator", db.ErrInvalidCondition, key)
		}
		cond = Match(key, op, v["value"])
	default:
		return Condition{}, fmt.Errorf("%w: unsupported value for %q", db.ErrInvalidCondition, key)
	}

	if err := cond.Validate(); err != nil {
		return Condition{}, err
	}
	return cond, nil
}

func isKnownField(field string) bool {
	switch field {
	case "severity", "source", "environment", "title", "created_at":
		return true
	}
	return strings.HasPrefix(field, "labels.") || strings.HasPrefix(field, "metadata.")
}

// Validate checks the tree shape and operator arguments without evaluating
// it against an alert.
func (c Condition) Validate() error {
	switch c.Kind {
	case ConditionAnd, ConditionOr:
		for _, child := range c.Children {
			if err := child.Validate(); err != nil {
				return err
			}
		}
		return nil
	case ConditionNot:
		if len(c.Children) != 1 {
			return fmt.Errorf("%w: \"not\" takes exactly one condition", db.ErrInvalidCondition)
		}
		return c.Children[0].Validate()
	case ConditionDefault:
		return nil
	case ConditionMatch:
		if !isKnownField(c.Field) {
			return fmt.Errorf("%w: unknown field %q", db.ErrInvalidCondition, c.Field)
		}
		if !knownOperators[c.Operator] {
			return fmt.Errorf("%w: unknown operator %q", db.ErrInvalidCondition, c.Operator)
		}
		switch c.Operator {
		case db.RoutingOperatorIn, db.RoutingOperatorNotIn:
			if _, ok := c.Value.([]interface{}); !ok {
				return fmt.Errorf("%w: %s on %q expects a list", db.ErrInvalidCondition, c.Operator, c.Field)
			}
		case db.RoutingOperatorRegex:
			s, ok := c.Value.(string)
			if !ok {
				return fmt.Errorf("%w: regex on %q expects a string", db.ErrInvalidCondition, c.Field)
			}
			if _, err := compileRegex(s); err != nil {
				return fmt.Errorf("%w: %v", db.ErrInvalidCondition, err)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: unknown condition kind %q", db.ErrInvalidCondition, c.Kind)
}

// Evaluate interprets the tree against the alert attributes. An error means
// the condition could not be evaluated; callers treat that as a non-match.
func (c Condition) Evaluate(attrs db.AlertAttributes) (bool, error) {
	switch c.Kind {
	case ConditionAnd:
		for _, child := range c.Children {
			ok, err := child.Evaluate(attrs)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case ConditionOr:
		for _, child := range c.Children {
			ok, err := child.Evaluate(attrs)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case ConditionNot:
		if len(c.Children) != 1 {
			return false, fmt.Errorf("%w: \"not\" takes exactly one condition", db.ErrInvalidCondition)
		}
		ok, err := c.Children[0].Evaluate(attrs)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case ConditionDefault:
		return true, nil
	case ConditionMatch:
		actual, exists := fieldValue(attrs, c.Field)
		return matchValue(c.Operator, actual, exists, c.Value)
	}
	return false, fmt.Errorf("%w: unknown condition kind %q", db.ErrInvalidCondition, c.Kind)
}

// fieldValue resolves a condition field against the attributes. exists is
// false for absent labels/metadata and unset created_at.
func fieldValue(attrs db.AlertAttributes, field string) (interface{}, bool) {
	switch field {
	case "severity":
		return attrs.Severity, true
	case "source":
		return attrs.Source, true
	case "environment":
		return attrs.Environment, true
	case "title":
		return attrs.Title, true
	case "created_at":
		if attrs.CreatedAt == nil {
			return nil, false
		}
		return *attrs.CreatedAt, true
	}

	if key, ok := strings.CutPrefix(field, "labels."); ok {
		v, exists := attrs.Labels[key]
		return v, exists
	}
	if key, ok := strings.CutPrefix(field, "metadata."); ok {
		v, exists := attrs.Metadata[key]
		return v, exists
	}
	return nil, false
}

// matchValue applies one operator. Negative operators hold for absent fields.
func matchValue(operator string, actual interface{}, exists bool, expected interface{}) (bool, error) {
	actualStr := stringify(actual)
	expectedStr := stringify(expected)

	switch operator {
	case db.RoutingOperatorDefault:
		return true, nil
	case db.RoutingOperatorEquals:
		return exists && actualStr == expectedStr, nil
	case db.RoutingOperatorNotEquals:
		return !exists || actualStr != expectedStr, nil
	case db.RoutingOperatorContains:
		return exists && strings.Contains(actualStr, expectedStr), nil
	case db.RoutingOperatorNotContains:
		return !exists || !strings.Contains(actualStr, expectedStr), nil
	case db.RoutingOperatorIn, db.RoutingOperatorNotIn:
		items, ok := expected.([]interface{})
		if !ok {
			return false, fmt.Errorf("%w: %s expects a list", db.ErrInvalidCondition, operator)
		}
		found := false
		for _, item := range items {
			if exists && stringify(item) == actualStr {
				found = true
				break
			}
		}
		if operator == db.RoutingOperatorIn {
			return found, nil
		}
		return !found, nil
	case db.RoutingOperatorRegex:
		pattern, ok := expected.(string)
		if !ok {
			return false, fmt.Errorf("%w: regex expects a string", db.ErrInvalidCondition)
		}
		re, err := compileRegex(pattern)
		if err != nil {
			return false, fmt.Errorf("%w: %v", db.ErrInvalidCondition, err)
		}
		return exists && re.MatchString(actualStr), nil
	case db.RoutingOperatorGreaterThan, db.RoutingOperatorLessThan:
		if !exists {
			return false, nil
		}
		cmp, err := compareOrdered(actual, expected)
		if err != nil {
			return false, err
		}
		if operator == db.RoutingOperatorGreaterThan {
			return cmp > 0, nil
		}
		return cmp < 0, nil
	}
	return false, fmt.Errorf("%w: unknown operator %q", db.ErrInvalidCondition, operator)
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}

// compareOrdered compares numerically when both sides are numbers and
// chronologically when both are RFC3339 instants.
func compareOrdered(actual, expected interface{}) (int, error) {
	if a, ok := toFloat(actual); ok {
		if e, ok := toFloat(expected); ok {
			switch {
			case a > e:
				return 1, nil
			case a < e:
				return -1, nil
			}
			return 0, nil
		}
	}
	if a, ok := toTime(actual); ok {
		if e, ok := toTime(expected); ok {
			return a.Compare(e), nil
		}
	}
	return 0, fmt.Errorf("%w: cannot order %v against %v", db.ErrInvalidCondition, actual, expected)
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}

var regexCache sync.Map

func compileRegex(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// TIME CONDITIONS

// TimeWindow is the compiled form of a rule's time conditions. Every
// constraint present must hold.
type TimeWindow struct {
	BusinessHours bool
	Weekdays      bool
	Weekends      bool
	Hours         *HourRange
	Days          map[time.Weekday]bool
	Location      *time.Location
}

// HourRange is a daily clock window in minutes since midnight. Start after
// End wraps past midnight.
type HourRange struct {
	Start int
	End   int
}

func (h HourRange) contains(minute int) bool {
	switch {
	case h.Start == h.End:
		return true
	case h.Start < h.End:
		return minute >= h.Start && minute < h.End
	}
	return minute >= h.Start || minute < h.End
}

var businessHours = HourRange{Start: 9 * 60, End: 17 * 60}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// CompileTimeConditions parses the stored time_conditions map. It returns
// nil for an empty map, meaning the rule is not time gated.
func CompileTimeConditions(raw map[string]interface{}) (*TimeWindow, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	w := &TimeWindow{Location: time.UTC}
	for key, value := range raw {
		switch key {
		case db.TimeConditionBusinessHours, db.TimeConditionWeekdays, db.TimeConditionWeekends:
			b, ok := value.(bool)
			if !ok {
				return nil, fmt.Errorf("%w: %q must be a boolean", db.ErrInvalidCondition, key)
			}
			switch key {
			case db.TimeConditionBusinessHours:
				w.BusinessHours = b
			case db.TimeConditionWeekdays:
				w.Weekdays = b
			default:
				w.Weekends = b
			}
		case db.TimeConditionHours:
			h, err := parseHourRange(value)
			if err != nil {
				return nil, err
			}
			w.Hours = &h
		case db.TimeConditionDays:
			days, err := parseDays(value)
			if err != nil {
				return nil, err
			}
			w.Days = days
		case db.TimeConditionTimezone:
			name, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%w: timezone must be a string", db.ErrInvalidCondition)
			}
			loc, err := time.LoadLocation(name)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", db.ErrInvalidCondition, err)
			}
			w.Location = loc
		default:
			return nil, fmt.Errorf("%w: unknown time condition %q", db.ErrInvalidCondition, key)
		}
	}
	return w, nil
}

// Allows reports whether t satisfies the window in its configured timezone.
func (w *TimeWindow) Allows(t time.Time) bool {
	if w == nil {
		return true
	}
	local := t.In(w.Location)
	weekday := local.Weekday()
	minute := local.Hour()*60 + local.Minute()
	weekend := weekday == time.Saturday || weekday == time.Sunday

	if w.BusinessHours && (weekend || !businessHours.contains(minute)) {
		return false
	}
	if w.Weekdays && weekend {
		return false
	}
	if w.Weekends && !weekend {
		return false
	}
	if w.Hours != nil && !w.Hours.contains(minute) {
		return false
	}
	if w.Days != nil && !w.Days[weekday] {
		return false
	}
	return true
}

func parseHourRange(value interface{}) (HourRange, error) {
	var start, end interface{}
	switch v := value.(type) {
	case map[string]interface{}:
		start, end = v["start"], v["end"]
	case []interface{}:
		if len(v) != 2 {
			return HourRange{}, fmt.Errorf("%w: hours expects [start, end]", db.ErrInvalidCondition)
		}
		start, end = v[0], v[1]
	case string:
		parts := strings.Split(v, "-")
		if len(parts) != 2 {
			return HourRange{}, fmt.Errorf("%w: hours expects \"HH:MM-HH:MM\"", db.ErrInvalidCondition)
		}
		start, end = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	default:
		return HourRange{}, fmt.Errorf("%w: unsupported hours value", db.ErrInvalidCondition)
	}

	s, err := parseClockMinute(start)
	if err != nil {
		return HourRange{}, err
	}
	e, err := parseClockMinute(end)
	if err != nil {
		return HourRange{}, err
	}
	return HourRange{Start: s, End: e}, nil
}

// parseClockMinute accepts "HH:MM" or a whole hour number.
func parseClockMinute(v interface{}) (int, error) {
	switch t := v.(type) {
	case float64:
		if t < 0 || t > 24 || t != float64(int(t)) {
			return 0, fmt.Errorf("%w: hour %v out of range", db.ErrInvalidCondition, t)
		}
		return int(t) * 60 % (24 * 60), nil
	case int:
		if t < 0 || t > 24 {
			return 0, fmt.Errorf("%w: hour %d out of range", db.ErrInvalidCondition, t)
		}
		return t * 60 % (24 * 60), nil
	case string:
		m, err := parseClock(t)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", db.ErrInvalidCondition, err)
		}
		return m, nil
	}
	return 0, fmt.Errorf("%w: unsupported clock value %v", db.ErrInvalidCondition, v)
}

// parseClock parses "15:04" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func parseDays(value interface{}) (map[time.Weekday]bool, error) {
	items, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: days expects a list", db.ErrInvalidCondition)
	}
	days := make(map[time.Weekday]bool, len(items))
	for _, item := range items {
		switch d := item.(type) {
		case string:
			wd, ok := weekdayNames[strings.ToLower(d)]
			if !ok {
				return nil, fmt.Errorf("%w: unknown day %q", db.ErrInvalidCondition, d)
			}
			days[wd] = true
		case float64:
			if d < 0 || d > 6 || d != float64(int(d)) {
				return nil, fmt.Errorf("%w: day %v out of range", db.ErrInvalidCondition, d)
			}
			days[time.Weekday(int(d))] = true
		default:
			return nil, fmt.Errorf("%w: unsupported day %v", db.ErrInvalidCondition, item)
		}
	}
	return days, nil
}
