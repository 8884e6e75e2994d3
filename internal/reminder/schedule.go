package reminder

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultDailySpec fires the daily reminder at 23:00.
const DefaultDailySpec = "0 23 * * *"

// ParseDaily parses a standard five-field cron expression for the daily
// reminder. Next instants follow the location of the time passed to Next.
func ParseDaily(spec string) (cron.Schedule, error) {
	if spec == "" {
		spec = DefaultDailySpec
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("reminder: parse daily spec %q: %w", spec, err)
	}
	return sched, nil
}

// Window is the part of the day, as offsets from local midnight, in which
// the hourly fallback may act. Start is inclusive and End exclusive.
type Window struct {
	Start time.Duration
	End   time.Duration
}

// DefaultWindow covers 22:00 to 23:59.
var DefaultWindow = Window{Start: 22 * time.Hour, End: 24 * time.Hour}

// ParseWindow reads "HH:MM-HH:MM"; an end of 24:00 closes at midnight.
func ParseWindow(raw string) (Window, error) {
	var sh, sm, eh, em int
	if _, err := fmt.Sscanf(raw, "%d:%d-%d:%d", &sh, &sm, &eh, &em); err != nil {
		return Window{}, fmt.Errorf("%w: %q", ErrInvalidWindow, raw)
	}
	w := Window{
		Start: time.Duration(sh)*time.Hour + time.Duration(sm)*time.Minute,
		End:   time.Duration(eh)*time.Hour + time.Duration(em)*time.Minute,
	}
	if err := w.validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

func (w Window) validate() error {
	if w.Start < 0 || w.End > 24*time.Hour || w.Start >= w.End || subMinute(w.Start) || subMinute(w.End) {
		return fmt.Errorf("%w: %s-%s", ErrInvalidWindow, w.Start, w.End)
	}
	return nil
}

func subMinute(d time.Duration) bool {
	return d%time.Minute != 0
}

// Contains reports whether t falls inside the window in t's location.
func (w Window) Contains(t time.Time) bool {
	off := sinceMidnight(t)
	return off >= w.Start && off < w.End
}

// NextHour returns the first top of the hour strictly after now that lies in
// the window.
func (w Window) NextHour(now time.Time) time.Time {
	y, m, d := now.Date()
	candidate := time.Date(y, m, d, now.Hour()+1, 0, 0, 0, now.Location())
	for i := 0; i < 48; i++ {
		if w.Contains(candidate) {
			return candidate
		}
		candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(), candidate.Hour()+1, 0, 0, 0, candidate.Location())
	}
	return candidate
}

func sinceMidnight(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}
