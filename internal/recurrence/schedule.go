// Package recurrence implements the pure, deterministic mapping from a
// schedule spec and a reference instant to the next fire instant. It has
// no I/O and no dependency on the store or registry, so it is replayable
// during recovery and trivially unit-testable.
package recurrence

import (
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/byrde/scheduler/internal/domain"
)

// Kind discriminates the tagged variants of Schedule.
type Kind string

const (
	KindOneTime    Kind = "one-time"
	KindCron       Kind = "cron"
	KindFixedDelay Kind = "fixed-delay"
	KindDaily      Kind = "daily"
)

// Schedule is a closed sum of the four recurrence variants. The marker
// method keeps it sealed to this package; callers only ever hold one of
// the four concrete types returned by the New* constructors.
type Schedule interface {
	Kind() Kind
	// Next returns the next fire instant strictly after `after`. ok is
	// false only for OneTime once it has already fired (the schedule is
	// exhausted).
	Next(after time.Time) (next time.Time, ok bool)

	sealed()
}

// OneTime fires exactly once, at FireAt.
type OneTime struct {
	FireAt time.Time
}

func NewOneTime(fireAt time.Time) OneTime { return OneTime{FireAt: fireAt} }

func (OneTime) Kind() Kind { return KindOneTime }
func (OneTime) sealed()    {}

func (o OneTime) Next(after time.Time) (time.Time, bool) {
	if after.Before(o.FireAt) {
		return o.FireAt, true
	}
	return time.Time{}, false
}

// Cron fires on the instants matched by a 5- or 6-field cron expression,
// evaluated in Zone (UTC if nil).
type Cron struct {
	Expression string
	Zone       *time.Location

	schedule cron.Schedule
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NewCron parses and validates expression, rejecting it before
// persistence if it does not match a valid 5- or 6-field cron form.
func NewCron(expression string, zone *time.Location) (Cron, error) {
	sched, err := cronParser.Parse(expression)
	if err != nil {
		return Cron{}, errors.Wrapf(domain.ErrValidation, "recurrence: invalid cron expression %q: %v", expression, err)
	}
	if zone == nil {
		zone = time.UTC
	}
	return Cron{Expression: expression, Zone: zone, schedule: sched}, nil
}

func (Cron) Kind() Kind { return KindCron }
func (Cron) sealed()    {}

func (c Cron) Next(after time.Time) (time.Time, bool) {
	zone := c.Zone
	if zone == nil {
		zone = time.UTC
	}
	// robfig/cron's Schedule.Next returns the next instant strictly after
	// the argument, which matches the "after + 1ms" semantics required
	// here closely enough that we feed it after.Add(time.Millisecond) to
	// guarantee the boundary instant itself is never re-returned.
	ref := after.In(zone).Add(time.Millisecond)
	return c.schedule.Next(ref), true
}

// FixedDelay fires Delay after the previous fire (or after the inserted
// execution_time for the first fire).
type FixedDelay struct {
	Delay time.Duration
}

func NewFixedDelay(delay time.Duration) (FixedDelay, error) {
	if delay <= 0 {
		return FixedDelay{}, errors.Wrap(domain.ErrValidation, "recurrence: fixed-delay must be positive")
	}
	return FixedDelay{Delay: delay}, nil
}

func (FixedDelay) Kind() Kind { return KindFixedDelay }
func (FixedDelay) sealed()    {}

func (f FixedDelay) Next(after time.Time) (time.Time, bool) {
	return after.Add(f.Delay), true
}

// Daily fires once per day at (Hour, Minute, 0) in Zone (UTC if nil).
type Daily struct {
	Hour   int
	Minute int
	Zone   *time.Location
}

func NewDaily(hour, minute int, zone *time.Location) (Daily, error) {
	if hour < 0 || hour > 23 {
		return Daily{}, errors.Wrapf(domain.ErrValidation, "recurrence: hour %d out of range [0,23]", hour)
	}
	if minute < 0 || minute > 59 {
		return Daily{}, errors.Wrapf(domain.ErrValidation, "recurrence: minute %d out of range [0,59]", minute)
	}
	if zone == nil {
		zone = time.UTC
	}
	return Daily{Hour: hour, Minute: minute, Zone: zone}, nil
}

func (Daily) Kind() Kind { return KindDaily }
func (Daily) sealed()    {}

func (d Daily) Next(after time.Time) (time.Time, bool) {
	zone := d.Zone
	if zone == nil {
		zone = time.UTC
	}
	local := after.In(zone)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), d.Hour, d.Minute, 0, 0, zone)
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate, true
}
