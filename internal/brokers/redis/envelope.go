package redis

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"queue-router/internal/brokers"
)

const envelopeVersion = 1

// envelope is the list item format written by this transport. Items that are not
// envelopes are treated as raw bodies so plain LPUSH producers interoperate.
type envelope struct {
	Version     int               `json:"v"`
	ID          string            `json:"id"`
	Body        []byte            `json:"body"`
	ContentType string            `json:"contentType,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

func encode(message *brokers.Message) ([]byte, error) {
	timestamp := message.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	return json.Marshal(envelope{
		Version:     envelopeVersion,
		ID:          message.ID,
		Body:        message.Body,
		ContentType: message.ContentType,
		Headers:     message.Headers,
		Timestamp:   timestamp,
	})
}

func decode(queue string, raw string) *brokers.Message {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err == nil && env.Version == envelopeVersion && env.Body != nil {
		if env.ID == "" {
			env.ID = uuid.New().String()
		}
		return &brokers.Message{
			ID:          env.ID,
			Queue:       queue,
			Body:        env.Body,
			ContentType: env.ContentType,
			Headers:     env.Headers,
			Timestamp:   env.Timestamp,
		}
	}

	return &brokers.Message{
		ID:        uuid.New().String(),
		Queue:     queue,
		Body:      []byte(raw),
		Headers:   map[string]string{},
		Timestamp: time.Now(),
	}
}
