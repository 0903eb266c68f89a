// Package envelope is the JSON codec for the scheduled_tasks.data column.
// It carries everything the Execution Pipeline needs to republish a
// payload and recompute the next fire instant without consulting any
// external registry: target topic, raw bytes, attributes, and the
// schedule descriptor.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/byrde/scheduler/internal/domain"
	"github.com/byrde/scheduler/internal/recurrence"
)

// envelopeVersion guards future wire changes; Decode rejects anything
// else so a schema-skewed row surfaces as ErrPermanentDecode rather than
// a silently wrong republish.
const envelopeVersion = 1

// Descriptor is the wire form of a recurrence.Schedule: a flat struct
// with one populated sub-set of fields per Kind, so it round-trips
// through JSON without needing a custom unmarshaler.
type Descriptor struct {
	Kind Kind `json:"kind"`

	FireAtUnixMilli int64  `json:"fireAtUnixMilli,omitempty"`
	Expression      string `json:"expression,omitempty"`
	Zone            string `json:"zone,omitempty"`
	DelayMillis     int64  `json:"delayMillis,omitempty"`
	Hour            int    `json:"hour,omitempty"`
	Minute          int    `json:"minute,omitempty"`
}

// Kind mirrors recurrence.Kind so this package doesn't leak the
// recurrence package's type identity into the wire format.
type Kind string

const (
	KindOneTime    Kind = "one-time"
	KindCron       Kind = "cron"
	KindFixedDelay Kind = "fixed-delay"
	KindDaily      Kind = "daily"
)

// Envelope is the decoded form of the data column.
type Envelope struct {
	Topic      string            `json:"topic"`
	Bytes      []byte            `json:"bytes"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Descriptor Descriptor        `json:"descriptor"`
}

type wire struct {
	Version int      `json:"version"`
	Payload Envelope `json:"payload"`
}

// Encode serializes e into the opaque bytes stored in the data column.
func Encode(e Envelope) ([]byte, error) {
	b, err := json.Marshal(wire{Version: envelopeVersion, Payload: e})
	if err != nil {
		return nil, errors.Wrap(err, "envelope: encode")
	}
	return b, nil
}

// Decode parses the data column back into an Envelope. A version
// mismatch or malformed JSON is ErrPermanentDecode: the row's data will
// never decode without an operator intervening.
func Decode(data []byte) (Envelope, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, errors.Wrapf(domain.ErrPermanentDecode, "envelope: decode: %v", err)
	}
	if w.Version != envelopeVersion {
		return Envelope{}, errors.Wrapf(domain.ErrPermanentDecode, "envelope: unsupported version %d", w.Version)
	}
	return w.Payload, nil
}

// ScheduleToDescriptor converts a recurrence.Schedule into its wire form.
func ScheduleToDescriptor(s recurrence.Schedule) Descriptor {
	switch v := s.(type) {
	case recurrence.OneTime:
		return Descriptor{Kind: KindOneTime, FireAtUnixMilli: v.FireAt.UnixMilli()}
	case recurrence.Cron:
		return Descriptor{Kind: KindCron, Expression: v.Expression, Zone: zoneName(v.Zone)}
	case recurrence.FixedDelay:
		return Descriptor{Kind: KindFixedDelay, DelayMillis: v.Delay.Milliseconds()}
	case recurrence.Daily:
		return Descriptor{Kind: KindDaily, Hour: v.Hour, Minute: v.Minute, Zone: zoneName(v.Zone)}
	default:
		return Descriptor{}
	}
}

// DescriptorToSchedule reconstructs a recurrence.Schedule from its wire
// form. This is what lets the Execution Pipeline recompute Next purely
// from a stored row, without any registry lookup.
func DescriptorToSchedule(d Descriptor) (recurrence.Schedule, error) {
	switch d.Kind {
	case KindOneTime:
		return recurrence.NewOneTime(time.UnixMilli(d.FireAtUnixMilli).UTC()), nil
	case KindCron:
		loc, err := loadZone(d.Zone)
		if err != nil {
			return nil, err
		}
		return recurrence.NewCron(d.Expression, loc)
	case KindFixedDelay:
		return recurrence.NewFixedDelay(time.Duration(d.DelayMillis) * time.Millisecond)
	case KindDaily:
		loc, err := loadZone(d.Zone)
		if err != nil {
			return nil, err
		}
		return recurrence.NewDaily(d.Hour, d.Minute, loc)
	default:
		return nil, errors.Wrapf(domain.ErrPermanentDecode, "envelope: unknown schedule kind %q", d.Kind)
	}
}

func zoneName(loc *time.Location) string {
	if loc == nil {
		return ""
	}
	return loc.String()
}

func loadZone(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrPermanentDecode, "envelope: unknown zone %q: %v", name, err)
	}
	return loc, nil
}
