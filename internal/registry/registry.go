// Package registry is the Task Registry: it validates inbound
// schedule requests, serializes them into the data envelope, and inserts
// the resulting row into the Task Store.
//
// This implementation registers exactly one task kind —
// domain.PublishPayloadTaskName — whose recurrence descriptor travels
// with each row's data rather than living in a mutable global table.
// Registry is a concrete struct, not an interface, and Submit always
// resolves through that one kind.
package registry

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/byrde/scheduler/internal/domain"
	"github.com/byrde/scheduler/internal/envelope"
	"github.com/byrde/scheduler/internal/recurrence"
)

var (
	simpleTopicRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._~+%-]{2,254}$`)
	fqTopicRe     = regexp.MustCompile(`^projects/[^/]+/topics/[^/]+$`)
)

// Inserter is the subset of store.Store the registry needs, kept as an
// interface so tests can substitute a fake.
type Inserter interface {
	Insert(ctx context.Context, t domain.Task) error
}

// Request is the decoded form of the canonical schedule-request JSON
// envelope, already normalized out of the legacy flat shape by the
// caller (see internal/ingress for the JSON-level decoding).
type Request struct {
	Schedule    ScheduleRequest
	TargetTopic string
	Payload     Payload
	TaskName    string // optional; required for dedup of recurring tasks
}

// ScheduleRequest mirrors the wire "schedule" object.
type ScheduleRequest struct {
	Type                 string // "one-time" | "cron" | "fixed-delay" | "daily"
	ExecutionTime        time.Time
	Expression           string
	DelaySeconds         int
	Hour, Minute         int
	InitialExecutionTime *time.Time
}

// Payload mirrors the wire "payload" object; Data is already base64-decoded.
type Payload struct {
	Data       []byte
	Attributes map[string]string
}

type Registry struct {
	store Inserter
	now   func() time.Time
}

func New(store Inserter) *Registry {
	return &Registry{store: store, now: time.Now}
}

// Validate runs every check Submit would run, without touching the
// store. It backs the `parse` CLI command.
func Validate(req Request, now time.Time) error {
	_, err := BuildTask(req, now)
	return err
}

// BuildTask validates req and serializes it into the domain.Task that
// would be inserted, without inserting it. Submit and the `schedule`/
// `parse` CLI commands all go through this.
func BuildTask(req Request, now time.Time) (domain.Task, error) {
	if err := validateTopic(req.TargetTopic); err != nil {
		return domain.Task{}, err
	}
	if len(req.Payload.Data) == 0 {
		return domain.Task{}, errors.Wrap(domain.ErrValidation, "registry: payload data must not be empty")
	}

	schedule, err := buildSchedule(req.Schedule, now)
	if err != nil {
		return domain.Task{}, err
	}

	executionTime, err := firstExecutionTime(schedule, req.Schedule, now)
	if err != nil {
		return domain.Task{}, err
	}

	env := envelope.Envelope{
		Topic:      req.TargetTopic,
		Bytes:      req.Payload.Data,
		Attributes: req.Payload.Attributes,
		Descriptor: envelope.ScheduleToDescriptor(schedule),
	}
	data, err := envelope.Encode(env)
	if err != nil {
		return domain.Task{}, errors.Wrap(err, "registry: encode envelope")
	}

	taskName := domain.PublishPayloadTaskName
	var taskInstance string
	if req.TaskName != "" {
		taskInstance = req.TaskName
	} else {
		taskInstance = uuid.NewString()
	}

	return domain.Task{
		TaskName:      taskName,
		TaskInstance:  taskInstance,
		ExecutionTime: executionTime,
		Data:          data,
	}, nil
}

// Submit validates req, serializes it, and inserts the resulting row.
// It returns the assigned (task_name, task_instance) on success.
func (r *Registry) Submit(ctx context.Context, req Request) (taskName, taskInstance string, err error) {
	task, err := BuildTask(req, r.now().UTC())
	if err != nil {
		return "", "", err
	}
	if err := r.store.Insert(ctx, task); err != nil {
		return task.TaskName, task.TaskInstance, err
	}
	return task.TaskName, task.TaskInstance, nil
}

func buildSchedule(sr ScheduleRequest, now time.Time) (recurrence.Schedule, error) {
	switch sr.Type {
	case "", "one-time":
		if !sr.ExecutionTime.After(now) {
			return nil, errors.Wrap(domain.ErrValidation, "registry: one-time executionTime must be in the future")
		}
		return recurrence.NewOneTime(sr.ExecutionTime), nil
	case "cron":
		return recurrence.NewCron(sr.Expression, time.UTC)
	case "fixed-delay":
		if sr.DelaySeconds <= 0 {
			return nil, errors.Wrap(domain.ErrValidation, "registry: fixed-delay delaySeconds must be positive")
		}
		return recurrence.NewFixedDelay(time.Duration(sr.DelaySeconds) * time.Second)
	case "daily":
		return recurrence.NewDaily(sr.Hour, sr.Minute, time.UTC)
	default:
		return nil, errors.Wrapf(domain.ErrValidation, "registry: unknown schedule type %q", sr.Type)
	}
}

// firstExecutionTime computes the row's initial execution_time. For
// one-time schedules it's the requested instant. For recurring
// schedules, an explicit InitialExecutionTime is honored as-is (even if
// in the past — "fire immediately"); otherwise it is always
// schedule.Next(now), never a hardcoded default.
func firstExecutionTime(schedule recurrence.Schedule, sr ScheduleRequest, now time.Time) (time.Time, error) {
	if schedule.Kind() == recurrence.KindOneTime {
		ot := schedule.(recurrence.OneTime)
		return ot.FireAt, nil
	}
	if sr.InitialExecutionTime != nil {
		return *sr.InitialExecutionTime, nil
	}
	next, ok := schedule.Next(now)
	if !ok {
		return time.Time{}, errors.Wrap(domain.ErrValidation, "registry: recurring schedule has no next fire")
	}
	return next, nil
}

func validateTopic(topic string) error {
	if simpleTopicRe.MatchString(topic) || fqTopicRe.MatchString(topic) {
		return nil
	}
	return errors.Wrapf(domain.ErrValidation, "registry: invalid target topic %q", topic)
}
