package evaluators

import (
	"fmt"
	"time"

	"github.com/platformbuilds/authz-core/internal/models"
)

// TimeBasedEvaluator applies when the evaluation timestamp falls inside every
// configured sub-rule: a weekly schedule, an absolute date range, and
// recurring calendar periods. Sub-rules are optional and ANDed.
type TimeBasedEvaluator struct{}

func NewTimeBasedEvaluator() *TimeBasedEvaluator {
	return &TimeBasedEvaluator{}
}

func (e *TimeBasedEvaluator) Type() models.PolicyType { return models.PolicyTimeBased }

func (e *TimeBasedEvaluator) Evaluate(rules models.JSONMap, evalCtx *models.EvaluationContext) (*models.PolicyEvaluationResult, error) {
	now := time.Now().UTC()
	if evalCtx != nil && !evalCtx.Timestamp.IsZero() {
		now = evalCtx.Timestamp
	}

	if raw, ok := rules["schedule"]; ok {
		match, reason, err := e.matchSchedule(raw, now)
		if err != nil {
			return nil, err
		}
		if !match {
			return notApplicable(reason), nil
		}
	}

	if raw, ok := rules["dateRange"]; ok {
		match, reason, err := e.matchDateRange(raw, now)
		if err != nil {
			return nil, err
		}
		if !match {
			return notApplicable(reason), nil
		}
	}

	if raw, ok := rules["recurringPeriods"]; ok {
		match, reason, err := e.matchRecurringPeriods(raw, now)
		if err != nil {
			return nil, err
		}
		if !match {
			return notApplicable(reason), nil
		}
	}

	return applicable("within allowed time window"), nil
}

// matchSchedule checks daysOfWeek plus an HH:MM window, after converting the
// timestamp to the schedule's timezone.
func (e *TimeBasedEvaluator) matchSchedule(raw interface{}, now time.Time) (bool, string, error) {
	sched, ok := asMap(raw)
	if !ok {
		return false, "", invalidRules("schedule must be an object")
	}

	local := now
	if tzRaw, ok := sched["timezone"]; ok {
		tz, ok := asString(tzRaw)
		if !ok {
			return false, "", invalidRules("schedule.timezone must be a string")
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return false, "", invalidRules("schedule.timezone %q is not a valid IANA timezone", tz)
		}
		local = now.In(loc)
	}

	if daysRaw, ok := sched["daysOfWeek"]; ok {
		days, ok := asSlice(daysRaw)
		if !ok {
			return false, "", invalidRules("schedule.daysOfWeek must be a list")
		}
		today := int(local.Weekday())
		matched := false
		for _, d := range days {
			day, ok := asInt(d)
			if !ok || day < 0 || day > 6 {
				return false, "", invalidRules("schedule.daysOfWeek entries must be integers 0..6")
			}
			if day == today {
				matched = true
			}
		}
		if !matched {
			return false, fmt.Sprintf("day of week %d is not in the allowed set", today), nil
		}
	}

	startRaw, hasStart := sched["startTime"]
	endRaw, hasEnd := sched["endTime"]
	if hasStart != hasEnd {
		return false, "", invalidRules("schedule startTime and endTime must be set together")
	}
	if hasStart {
		start, err := parseClock(startRaw, "schedule.startTime")
		if err != nil {
			return false, "", err
		}
		end, err := parseClock(endRaw, "schedule.endTime")
		if err != nil {
			return false, "", err
		}
		minute := local.Hour()*60 + local.Minute()
		inside := false
		if start <= end {
			inside = minute >= start && minute <= end
		} else {
			// Overnight window, e.g. 22:00..06:00.
			inside = minute >= start || minute <= end
		}
		if !inside {
			return false, fmt.Sprintf("time %02d:%02d is outside the allowed window", local.Hour(), local.Minute()), nil
		}
	}

	return true, "", nil
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(raw interface{}, field string) (int, error) {
	s, ok := asString(raw)
	if !ok {
		return 0, invalidRules("%s must be a HH:MM string", field)
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, invalidRules("%s %q is not a valid HH:MM time", field, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (e *TimeBasedEvaluator) matchDateRange(raw interface{}, now time.Time) (bool, string, error) {
	dr, ok := asMap(raw)
	if !ok {
		return false, "", invalidRules("dateRange must be an object")
	}
	start, err := parseTimestamp(dr["start"], "dateRange.start")
	if err != nil {
		return false, "", err
	}
	end, err := parseTimestamp(dr["end"], "dateRange.end")
	if err != nil {
		return false, "", err
	}
	if !start.Before(end) {
		return false, "", invalidRules("dateRange.start must be before dateRange.end")
	}
	// Inclusive on both ends.
	if now.Before(start) || now.After(end) {
		return false, "timestamp is outside the allowed date range", nil
	}
	return true, "", nil
}

func parseTimestamp(raw interface{}, field string) (time.Time, error) {
	s, ok := asString(raw)
	if !ok {
		return time.Time{}, invalidRules("%s must be an RFC 3339 timestamp or YYYY-MM-DD date", field)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, invalidRules("%s %q is not a valid timestamp", field, s)
}

// matchRecurringPeriods requires every listed period to cover now. Types:
// daily (hours 0..23), weekly (weekdays 0..6), monthly (days of month),
// yearly (months 1..12).
func (e *TimeBasedEvaluator) matchRecurringPeriods(raw interface{}, now time.Time) (bool, string, error) {
	periods, ok := asSlice(raw)
	if !ok {
		return false, "", invalidRules("recurringPeriods must be a list")
	}
	for i, p := range periods {
		period, ok := asMap(p)
		if !ok {
			return false, "", invalidRules("recurringPeriods[%d] must be an object", i)
		}
		ptype, _ := asString(period["type"])
		valuesRaw, ok := asSlice(period["values"])
		if !ok || len(valuesRaw) == 0 {
			return false, "", invalidRules("recurringPeriods[%d].values must be a non-empty list", i)
		}
		values := make([]int, 0, len(valuesRaw))
		for _, v := range valuesRaw {
			n, ok := asInt(v)
			if !ok {
				return false, "", invalidRules("recurringPeriods[%d].values entries must be integers", i)
			}
			values = append(values, n)
		}

		var current int
		switch ptype {
		case "daily":
			current = now.Hour()
		case "weekly":
			current = int(now.Weekday())
		case "monthly":
			current = now.Day()
		case "yearly":
			current = int(now.Month())
		default:
			return false, "", invalidRules("recurringPeriods[%d].type %q must be one of daily, weekly, monthly, yearly", i, ptype)
		}

		matched := false
		for _, v := range values {
			if v == current {
				matched = true
				break
			}
		}
		if !matched {
			return false, fmt.Sprintf("%s period value %d is not in the allowed set", ptype, current), nil
		}
	}
	return true, "", nil
}

func (e *TimeBasedEvaluator) Validate(rules models.JSONMap) error {
	if len(rules) == 0 {
		return invalidRules("time-based policy requires at least one of schedule, dateRange, recurringPeriods")
	}
	hasAny := false
	for key := range rules {
		switch key {
		case "schedule", "dateRange", "recurringPeriods":
			hasAny = true
		default:
			return invalidRules("unknown time-based rule %q", key)
		}
	}
	if !hasAny {
		return invalidRules("time-based policy requires at least one of schedule, dateRange, recurringPeriods")
	}

	// Evaluation performs full structural checks; run it against a fixed
	// timestamp to surface them at write time.
	probe := &models.EvaluationContext{Timestamp: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	if _, err := e.Evaluate(rules, probe); err != nil {
		return err
	}
	return nil
}
