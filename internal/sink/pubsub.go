package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/skimmer-dev/skimmer/internal/engine"
)

// PubSub publishes each record as one message on a Cloud Pub/Sub topic.
type PubSub struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	runID  string
}

// NewPubSub connects to projectID and publishes on topicID.
func NewPubSub(ctx context.Context, projectID, topicID, runID string) (*PubSub, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("connect pubsub sink: %w", err)
	}
	return &PubSub{client: client, topic: client.Topic(topicID), runID: runID}, nil
}

func (s *PubSub) Accept(ctx context.Context, records []engine.Record) error {
	results := make([]*pubsub.PublishResult, 0, len(records))
	for _, record := range records {
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record payload: %w", err)
		}
		results = append(results, s.topic.Publish(ctx, &pubsub.Message{
			Data:       payload,
			Attributes: map[string]string{"run_id": s.runID},
		}))
	}
	for _, res := range results {
		if _, err := res.Get(ctx); err != nil {
			return fmt.Errorf("publish record: %w", err)
		}
	}
	return nil
}

func (s *PubSub) Close() error {
	s.topic.Stop()
	return s.client.Close()
}
