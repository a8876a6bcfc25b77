// Package pubsub publishes crawl outcomes to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/JakeFAU/rum-crawler/internal/crawler"
	"github.com/JakeFAU/rum-crawler/internal/sink"
)

// Config names the destination topic.
type Config struct {
	ProjectID string
	Topic     string
}

// Sink implements crawler.Sink. Each Write waits for the server ack, so a
// publish failure surfaces as a sink failure.
type Sink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New creates a client using Application Default Credentials and checks
// that the topic exists.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Sink, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("pubsub project_id and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	s, err := newWithClient(ctx, client, cfg.Topic)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func newWithClient(ctx context.Context, client *pubsub.Client, topicID string) (*Sink, error) {
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %q does not exist", topicID)
	}
	return &Sink{client: client, topic: topic}, nil
}

// Write publishes the outcome as JSON with run and status attributes.
func (s *Sink) Write(ctx context.Context, outcome crawler.Outcome) error {
	data, err := json.Marshal(sink.Record(outcome))
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id": outcome.RunID,
			"status": string(outcome.Status),
		},
	}
	if _, err := s.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish outcome %s: %w", outcome.URL, err)
	}
	return nil
}

// Close flushes pending publishes and closes the client.
func (s *Sink) Close(context.Context) error {
	s.topic.Stop()
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
