package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/byrde/scheduler/internal/domain"
)

type fakeInserter struct {
	tasks map[string]domain.Task
}

func newFakeInserter() *fakeInserter {
	return &fakeInserter{tasks: make(map[string]domain.Task)}
}

func (f *fakeInserter) Insert(ctx context.Context, t domain.Task) error {
	key := t.TaskName + "/" + t.TaskInstance
	if _, exists := f.tasks[key]; exists {
		return domain.ErrDuplicateInstance
	}
	f.tasks[key] = t
	return nil
}

func validPayload() Payload {
	return Payload{Data: []byte("payload-bytes")}
}

func TestSubmitOneTimeHappyPath(t *testing.T) {
	store := newFakeInserter()
	r := New(store)

	req := Request{
		Schedule:    ScheduleRequest{Type: "one-time", ExecutionTime: time.Now().Add(time.Hour)},
		TargetTopic: "orders.created",
		Payload:     validPayload(),
	}

	taskName, taskInstance, err := r.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if taskName != domain.PublishPayloadTaskName {
		t.Fatalf("unexpected task name %q", taskName)
	}
	if taskInstance == "" {
		t.Fatal("expected generated task instance")
	}
}

func TestSubmitRejectsPastOneTime(t *testing.T) {
	r := New(newFakeInserter())
	req := Request{
		Schedule:    ScheduleRequest{Type: "one-time", ExecutionTime: time.Now().Add(-time.Hour)},
		TargetTopic: "orders.created",
		Payload:     validPayload(),
	}
	_, _, err := r.Submit(context.Background(), req)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSubmitRejectsEmptyPayload(t *testing.T) {
	r := New(newFakeInserter())
	req := Request{
		Schedule:    ScheduleRequest{Type: "one-time", ExecutionTime: time.Now().Add(time.Hour)},
		TargetTopic: "orders.created",
		Payload:     Payload{},
	}
	_, _, err := r.Submit(context.Background(), req)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSubmitRejectsBadTopic(t *testing.T) {
	r := New(newFakeInserter())
	req := Request{
		Schedule:    ScheduleRequest{Type: "one-time", ExecutionTime: time.Now().Add(time.Hour)},
		TargetTopic: "!!not-a-topic",
		Payload:     validPayload(),
	}
	_, _, err := r.Submit(context.Background(), req)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSubmitDuplicateNamedRecurring(t *testing.T) {
	store := newFakeInserter()
	r := New(store)

	req := Request{
		Schedule:    ScheduleRequest{Type: "daily", Hour: 9, Minute: 0},
		TargetTopic: "reports.daily",
		Payload:     validPayload(),
		TaskName:    "daily-report",
	}

	_, _, err := r.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = r.Submit(context.Background(), req)
	if !errors.Is(err, domain.ErrDuplicateInstance) {
		t.Fatalf("expected ErrDuplicateInstance, got %v", err)
	}
	if len(store.tasks) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(store.tasks))
	}
}

func TestSubmitRecurringWithoutInitialTimeUsesNext(t *testing.T) {
	store := newFakeInserter()
	r := New(store)
	r.now = func() time.Time { return time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC) }

	req := Request{
		Schedule:    ScheduleRequest{Type: "cron", Expression: "0 0 * * *"},
		TargetTopic: "reports.daily",
		Payload:     validPayload(),
		TaskName:    "nightly",
	}
	_, _, err := r.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	task := store.tasks[domain.PublishPayloadTaskName+"/nightly"]
	want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	if !task.ExecutionTime.Equal(want) {
		t.Fatalf("want %v, got %v", want, task.ExecutionTime)
	}
}

func TestValidateDoesNotInsert(t *testing.T) {
	req := Request{
		Schedule:    ScheduleRequest{Type: "fixed-delay", DelaySeconds: 5},
		TargetTopic: "orders.created",
		Payload:     validPayload(),
	}
	if err := Validate(req, time.Now()); err != nil {
		t.Fatal(err)
	}
}

func TestPayloadBase64RoundTripAssumption(t *testing.T) {
	// Sanity check of the stdlib base64 round trip that internal/ingress
	// performs before handing already-decoded bytes to the registry; the
	// registry itself is not called here.
	raw := []byte("abc")
	encoded := base64.StdEncoding.EncodeToString(raw)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || string(decoded) != "abc" {
		t.Fatalf("unexpected base64 round trip: %v %v", decoded, err)
	}
}
