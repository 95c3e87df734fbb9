// Package pubsub publishes crawl reports to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/multisite-scraper/internal/crawler"
)

// EventAttribute tags every message with the kind of event it carries.
const EventAttribute = "event"

// ReportEvent is the event attribute value for completed crawl reports.
const ReportEvent = "crawl.report"

// DigestAttribute carries the SHA-256 of the message data so consumers can drop duplicates.
const DigestAttribute = "sha256"

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topic  *pubsub.Topic
	hasher crawler.Hasher
}

// New creates a Publisher for the provided topic. hasher may be nil.
func New(topic *pubsub.Topic, hasher crawler.Hasher) *Publisher {
	return &Publisher{topic: topic, hasher: hasher}
}

// Publish marshals the payload to JSON, publishes it and waits for the server ID.
func (p *Publisher) Publish(ctx context.Context, payload any) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	attrs := map[string]string{EventAttribute: ReportEvent}
	if p.hasher != nil {
		digest, err := p.hasher.Hash(data)
		if err != nil {
			return "", fmt.Errorf("hash payload: %w", err)
		}
		attrs[DigestAttribute] = digest
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages and stops the topic's background goroutines.
func (p *Publisher) Stop() {
	if p.topic != nil {
		p.topic.Stop()
	}
}
