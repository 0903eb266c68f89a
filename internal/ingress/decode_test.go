package ingress

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/byrde/scheduler/internal/domain"
)

func TestDecodeRequestCanonicalCron(t *testing.T) {
	body := []byte(`{
		"schedule": {"type": "cron", "expression": "0 9 * * *"},
		"targetTopic": "reports.daily",
		"payload": {"data": "` + base64.StdEncoding.EncodeToString([]byte("hi")) + `", "attributes": {"k": "v"}},
		"taskName": "daily-report"
	}`)

	req, err := DecodeRequest(body)
	if err != nil {
		t.Fatal(err)
	}
	if req.Schedule.Type != "cron" || req.Schedule.Expression != "0 9 * * *" {
		t.Fatalf("unexpected schedule: %+v", req.Schedule)
	}
	if req.TargetTopic != "reports.daily" || req.TaskName != "daily-report" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if string(req.Payload.Data) != "hi" || req.Payload.Attributes["k"] != "v" {
		t.Fatalf("unexpected payload: %+v", req.Payload)
	}
}

func TestDecodeRequestLegacyFlatShape(t *testing.T) {
	body := []byte(`{
		"targetTopic": "orders.created",
		"payload": {"data": "` + base64.StdEncoding.EncodeToString([]byte("x")) + `"},
		"executionTime": 1700000000000
	}`)

	req, err := DecodeRequest(body)
	if err != nil {
		t.Fatal(err)
	}
	if req.Schedule.Type != "one-time" {
		t.Fatalf("expected legacy shape to normalize to one-time, got %q", req.Schedule.Type)
	}
	if req.Schedule.ExecutionTime.UnixMilli() != 1700000000000 {
		t.Fatalf("unexpected execution time: %v", req.Schedule.ExecutionTime)
	}
}

func TestDecodeRequestRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeRequest([]byte("not json"))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestDecodeRequestRejectsBadBase64Payload(t *testing.T) {
	body := []byte(`{"targetTopic":"t","payload":{"data":"not-base64!!"},"executionTime":1700000000000}`)
	_, err := DecodeRequest(body)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestDecodeRequestRejectsMissingSchedule(t *testing.T) {
	body := []byte(`{"targetTopic":"t","payload":{"data":"aGk="}}`)
	_, err := DecodeRequest(body)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestDecodeRequestInitialExecutionTime(t *testing.T) {
	body := []byte(`{
		"schedule": {"type": "fixed-delay", "delaySeconds": 60, "initialExecutionTime": 1700000000000},
		"targetTopic": "orders.created",
		"payload": {"data": "aGk="}
	}`)
	req, err := DecodeRequest(body)
	if err != nil {
		t.Fatal(err)
	}
	if req.Schedule.InitialExecutionTime == nil || req.Schedule.InitialExecutionTime.UnixMilli() != 1700000000000 {
		t.Fatalf("unexpected initial execution time: %+v", req.Schedule.InitialExecutionTime)
	}
}
