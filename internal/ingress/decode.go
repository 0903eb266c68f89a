// Package ingress holds the JSON decoding shared by the HTTP API
// and the broker subscriber — both funnel into the same
// registry.Request, so the wire format is decoded exactly once.
package ingress

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/byrde/scheduler/internal/domain"
	"github.com/byrde/scheduler/internal/registry"
)

type wireSchedule struct {
	Type                 string `json:"type"`
	ExecutionTime        *int64 `json:"executionTime"`
	Expression           string `json:"expression"`
	DelaySeconds         int    `json:"delaySeconds"`
	Hour                 int    `json:"hour"`
	Minute               int    `json:"minute"`
	InitialExecutionTime *int64 `json:"initialExecutionTime"`
}

type wirePayload struct {
	Data       string            `json:"data"`
	Attributes map[string]string `json:"attributes"`
}

// wireRequest is the canonical shape. The legacy flat shape is detected
// by the absence of "schedule" and the presence of a top-level
// "executionTime".
type wireRequest struct {
	Schedule      *wireSchedule `json:"schedule"`
	TargetTopic   string        `json:"targetTopic"`
	Payload       wirePayload   `json:"payload"`
	TaskName      string        `json:"taskName"`
	ExecutionTime *int64        `json:"executionTime"` // legacy flat shape only
}

// DecodeRequest parses the canonical or legacy-flat schedule-request JSON
// body into a registry.Request.
func DecodeRequest(body []byte) (registry.Request, error) {
	var w wireRequest
	if err := json.Unmarshal(body, &w); err != nil {
		return registry.Request{}, errors.Wrapf(domain.ErrValidation, "ingress: malformed JSON: %v", err)
	}

	data, err := base64.StdEncoding.DecodeString(w.Payload.Data)
	if err != nil {
		return registry.Request{}, errors.Wrapf(domain.ErrValidation, "ingress: payload.data is not valid base64: %v", err)
	}

	req := registry.Request{
		TargetTopic: w.TargetTopic,
		TaskName:    w.TaskName,
		Payload: registry.Payload{
			Data:       data,
			Attributes: w.Payload.Attributes,
		},
	}

	switch {
	case w.Schedule != nil:
		sr, err := decodeSchedule(*w.Schedule)
		if err != nil {
			return registry.Request{}, err
		}
		req.Schedule = sr
	case w.ExecutionTime != nil:
		req.Schedule = registry.ScheduleRequest{
			Type:          "one-time",
			ExecutionTime: millisToTime(*w.ExecutionTime),
		}
	default:
		return registry.Request{}, errors.Wrap(domain.ErrValidation, "ingress: missing schedule")
	}

	return req, nil
}

func decodeSchedule(w wireSchedule) (registry.ScheduleRequest, error) {
	sr := registry.ScheduleRequest{
		Type:         w.Type,
		Expression:   w.Expression,
		DelaySeconds: w.DelaySeconds,
		Hour:         w.Hour,
		Minute:       w.Minute,
	}
	if w.ExecutionTime != nil {
		sr.ExecutionTime = millisToTime(*w.ExecutionTime)
	}
	if w.InitialExecutionTime != nil {
		t := millisToTime(*w.InitialExecutionTime)
		sr.InitialExecutionTime = &t
	}
	return sr, nil
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
