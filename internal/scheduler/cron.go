package scheduler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/amoylab/hostlink/internal/storage"
	"github.com/robfig/cron/v3"
)

// Schedule periods
const (
	PeriodHour  = "hour"
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
)

// parser accepts five-field expressions with an optional CRON_TZ prefix
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Input is one desired schedule of an Action
type Input struct {
	RunnerID        string `json:"runnerId,omitempty"`
	SchedulePeriod  string `json:"schedulePeriod" validate:"required,oneof=hour day week month"`
	TimeZoneName    string `json:"timeZoneName,omitempty"`
	HourOfDay       *int   `json:"hourOfDay,omitempty" validate:"omitempty,min=0,max=23"`
	MinuteOfHour    *int   `json:"minuteOfHour,omitempty" validate:"omitempty,min=0,max=59"`
	DayOfWeek       *int   `json:"dayOfWeek,omitempty" validate:"omitempty,min=0,max=6"`
	DayOfMonth      *int   `json:"dayOfMonth,omitempty" validate:"omitempty,min=1,max=31"`
	NotifyOnSuccess bool   `json:"notifyOnSuccess,omitempty"`
}

// InputOf reads the schedule fields back out of a stored row
func InputOf(s *storage.ActionSchedule) Input {
	return Input{
		RunnerID:        s.RunnerID,
		SchedulePeriod:  s.SchedulePeriod,
		TimeZoneName:    s.TimeZoneName,
		HourOfDay:       s.HourOfDay,
		MinuteOfHour:    s.MinuteOfHour,
		DayOfWeek:       s.DayOfWeek,
		DayOfMonth:      s.DayOfMonth,
		NotifyOnSuccess: s.NotifyOnSuccess,
	}
}

// Row builds the storage row for in
func (in Input) Row(actionID string) *storage.ActionSchedule {
	return &storage.ActionSchedule{
		ActionID:        actionID,
		RunnerID:        in.RunnerID,
		SchedulePeriod:  in.SchedulePeriod,
		TimeZoneName:    in.TimeZoneName,
		HourOfDay:       in.HourOfDay,
		MinuteOfHour:    in.MinuteOfHour,
		DayOfWeek:       in.DayOfWeek,
		DayOfMonth:      in.DayOfMonth,
		NotifyOnSuccess: in.NotifyOnSuccess,
	}
}

// Expression derives the cron expression. Unset fields default to the start
// of their period.
func (in Input) Expression() (string, error) {
	minute := field(in.MinuteOfHour, 0)
	hour := field(in.HourOfDay, 0)

	var expr string
	switch in.SchedulePeriod {
	case PeriodHour:
		expr = fmt.Sprintf("%s * * * *", minute)
	case PeriodDay:
		expr = fmt.Sprintf("%s %s * * *", minute, hour)
	case PeriodWeek:
		expr = fmt.Sprintf("%s %s * * %s", minute, hour, field(in.DayOfWeek, 0))
	case PeriodMonth:
		expr = fmt.Sprintf("%s %s %s * *", minute, hour, field(in.DayOfMonth, 1))
	default:
		return "", fmt.Errorf("unknown schedule period %q", in.SchedulePeriod)
	}

	tz := strings.TrimSpace(in.TimeZoneName)
	if tz == "" {
		tz = "UTC"
	}
	expr = "CRON_TZ=" + tz + " " + expr
	if _, err := parser.Parse(expr); err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return expr, nil
}

// key identifies equivalent inputs during a sync
func (in Input) key() string {
	expr, err := in.Expression()
	if err != nil {
		expr = "invalid:" + in.SchedulePeriod
	}
	return expr + "|" + in.RunnerID + "|" + strconv.FormatBool(in.NotifyOnSuccess)
}

func field(v *int, def int) string {
	if v == nil {
		return strconv.Itoa(def)
	}
	return strconv.Itoa(*v)
}
