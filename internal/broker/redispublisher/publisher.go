// Package redispublisher is this deployment's implementation of the
// Egress Publisher: it republishes a task's payload by PUBLISHing a
// small JSON envelope to the Redis channel named by the target topic.
package redispublisher

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type message struct {
	Topic      string            `json:"topic"`
	Data       []byte            `json:"data"`
	Attributes map[string]string `json:"attributes,omitempty"`
	MessageID  string            `json:"messageId"`
}

// Publisher implements pipeline.Publisher over a shared *redis.Client.
type Publisher struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Publisher { return &Publisher{rdb: rdb} }

func (p *Publisher) Publish(ctx context.Context, topic string, data []byte, attributes map[string]string) (string, error) {
	messageID := uuid.NewString()
	msg := message{Topic: topic, Data: data, Attributes: attributes, MessageID: messageID}

	payload, err := json.Marshal(msg)
	if err != nil {
		return "", errors.Wrap(err, "redispublisher: marshal message")
	}

	if err := p.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return "", errors.Wrap(err, "redispublisher: publish")
	}
	return messageID, nil
}
