// Package schedule parses and evaluates the schedules of recurring tasks.
// Schedules are stored as JSON; plain cron expressions and a handful of
// English phrases are normalized into that form.
package schedule

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

const (
	KindCron     = "cron"
	KindInterval = "interval"
	KindOnce     = "once"
)

type Schedule struct {
	Kind       string `json:"kind"`                  // "cron", "interval", "once"
	CronExpr   string `json:"cron_expr,omitempty"`   // Cron expression (if kind=cron)
	IntervalMs int64  `json:"interval_ms,omitempty"` // Interval in ms (if kind=interval)
	AtMs       int64  `json:"at_ms,omitempty"`       // Unix ms timestamp (if kind=once)
}

func ParseSchedule(raw string) (*Schedule, error) {
	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// JSON encodes the schedule in its stored form.
func (s Schedule) JSON() string {
	data, _ := json.Marshal(s)
	return string(data)
}

// Validate checks the schedule fields for its kind.
func (s Schedule) Validate() error {
	switch s.Kind {
	case KindCron:
		if !gronx.New().IsValid(s.CronExpr) {
			return fmt.Errorf("invalid cron expression: %s", s.CronExpr)
		}
	case KindInterval:
		if s.IntervalMs <= 0 {
			return fmt.Errorf("interval_ms must be positive")
		}
	case KindOnce:
		if s.AtMs <= 0 {
			return fmt.Errorf("at_ms must be positive")
		}
	default:
		return fmt.Errorf("unknown schedule kind: %s", s.Kind)
	}
	return nil
}

// Next returns the first run strictly after now, or nil when the schedule
// will not fire again.
func (s Schedule) Next(now time.Time) *time.Time {
	var next time.Time
	switch s.Kind {
	case KindCron:
		t, err := gronx.NextTickAfter(s.CronExpr, now, false)
		if err != nil {
			return nil
		}
		next = t
	case KindInterval:
		if s.IntervalMs <= 0 {
			return nil
		}
		next = now.Add(time.Duration(s.IntervalMs) * time.Millisecond)
	case KindOnce:
		t := time.UnixMilli(s.AtMs)
		if !t.After(now) {
			return nil
		}
		next = t
	default:
		return nil
	}
	return &next
}

func CalculateNextRun(scheduleJSON string) *time.Time {
	s, err := ParseSchedule(scheduleJSON)
	if err != nil {
		return nil
	}
	return s.Next(time.Now())
}

// FormatSchedule returns a human-readable description of a schedule JSON string.
func FormatSchedule(scheduleJSON string) string {
	s, err := ParseSchedule(scheduleJSON)
	if err != nil {
		return scheduleJSON
	}

	switch s.Kind {
	case KindCron:
		if m, h, ok := dailyCron(s.CronExpr); ok {
			return fmt.Sprintf("Daily at %02d:%02d", h, m)
		}
		return "Cron: " + s.CronExpr
	case KindInterval:
		d := time.Duration(s.IntervalMs) * time.Millisecond
		switch {
		case d%time.Hour == 0 && d >= time.Hour:
			h := int(d.Hours())
			if h == 1 {
				return "Every hour"
			}
			return fmt.Sprintf("Every %d hours", h)
		case d%time.Minute == 0 && d >= time.Minute:
			m := int(d.Minutes())
			if m == 1 {
				return "Every minute"
			}
			return fmt.Sprintf("Every %d minutes", m)
		default:
			return fmt.Sprintf("Every %d seconds", int(d.Seconds()))
		}
	case KindOnce:
		t := time.UnixMilli(s.AtMs)
		return "Once at " + t.Format("Jan 2 15:04")
	default:
		return scheduleJSON
	}
}

func dailyCron(expr string) (minute, hour int, ok bool) {
	f := strings.Fields(expr)
	if len(f) != 5 || f[2] != "*" || f[3] != "*" || f[4] != "*" {
		return 0, 0, false
	}
	m, err1 := strconv.Atoi(f[0])
	h, err2 := strconv.Atoi(f[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return m, h, true
}

// NormalizeSchedule detects plain cron strings and wraps them in JSON format.
// If the input is already valid JSON with a "kind" field, it is validated and
// passed through.
func NormalizeSchedule(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err == nil && s.Kind != "" {
		if err := s.Validate(); err != nil {
			return "", err
		}
		return raw, nil
	}

	if !gronx.New().IsValid(raw) {
		return "", fmt.Errorf("invalid schedule: not valid JSON or cron expression: %s", raw)
	}
	return Schedule{Kind: KindCron, CronExpr: raw}.JSON(), nil
}

var (
	everyRe = regexp.MustCompile(`(?i)\bevery\s+(\d+)\s*(seconds?|secs?|minutes?|mins?|hours?|hrs?)\b`)
	unitRe  = regexp.MustCompile(`(?i)\b(?:every\s+(minute|hour)|(hourly))\b`)
	dailyRe = regexp.MustCompile(`(?i)\b(?:daily|every\s+day)\s+at\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)
	inRe    = regexp.MustCompile(`(?i)\bin\s+(\d+)\s*(minutes?|mins?|hours?|hrs?)\b`)
	cronRe  = regexp.MustCompile(`(?i)\bcron\s*:?\s*["'` + "`" + `]?((?:\S+\s+){4}\S+?)["'` + "`" + `]?(?:\s|$)`)
)

// ParsePhrase finds a schedule phrase in text. It returns the schedule and
// the text with the phrase removed. now anchors relative phrases such as
// "in 10 minutes".
func ParsePhrase(text string, now time.Time) (Schedule, string, error) {
	if m := cronRe.FindStringSubmatchIndex(text); m != nil {
		expr := text[m[2]:m[3]]
		if s := (Schedule{Kind: KindCron, CronExpr: expr}); s.Validate() == nil {
			return s, cut(text, m[0], m[1]), nil
		}
	}

	if m := dailyRe.FindStringSubmatchIndex(text); m != nil {
		hour, _ := strconv.Atoi(text[m[2]:m[3]])
		minute := 0
		if m[4] >= 0 {
			minute, _ = strconv.Atoi(text[m[4]:m[5]])
		}
		if m[6] >= 0 {
			switch strings.ToLower(text[m[6]:m[7]]) {
			case "pm":
				if hour < 12 {
					hour += 12
				}
			case "am":
				if hour == 12 {
					hour = 0
				}
			}
		}
		if hour > 23 || minute > 59 {
			return Schedule{}, text, fmt.Errorf("invalid time of day %02d:%02d", hour, minute)
		}
		s := Schedule{Kind: KindCron, CronExpr: fmt.Sprintf("%d %d * * *", minute, hour)}
		return s, cut(text, m[0], m[1]), nil
	}

	if m := everyRe.FindStringSubmatchIndex(text); m != nil {
		n, _ := strconv.Atoi(text[m[2]:m[3]])
		if n <= 0 {
			return Schedule{}, text, fmt.Errorf("interval must be positive")
		}
		d := time.Duration(n) * unit(text[m[4]:m[5]])
		return Schedule{Kind: KindInterval, IntervalMs: d.Milliseconds()}, cut(text, m[0], m[1]), nil
	}

	if m := unitRe.FindStringSubmatchIndex(text); m != nil {
		d := time.Hour
		if m[2] >= 0 && strings.EqualFold(text[m[2]:m[3]], "minute") {
			d = time.Minute
		}
		return Schedule{Kind: KindInterval, IntervalMs: d.Milliseconds()}, cut(text, m[0], m[1]), nil
	}

	if m := inRe.FindStringSubmatchIndex(text); m != nil {
		n, _ := strconv.Atoi(text[m[2]:m[3]])
		if n <= 0 {
			return Schedule{}, text, fmt.Errorf("delay must be positive")
		}
		at := now.Add(time.Duration(n) * unit(text[m[4]:m[5]]))
		return Schedule{Kind: KindOnce, AtMs: at.UnixMilli()}, cut(text, m[0], m[1]), nil
	}

	return Schedule{}, text, fmt.Errorf("no schedule found in %q", text)
}

func unit(s string) time.Duration {
	switch strings.ToLower(s)[0] {
	case 's':
		return time.Second
	case 'h':
		return time.Hour
	default:
		return time.Minute
	}
}

func cut(text string, start, end int) string {
	return strings.Join(strings.Fields(text[:start]+" "+text[end:]), " ")
}
