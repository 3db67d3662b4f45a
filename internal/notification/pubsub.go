package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// PubSubPublisher publishes email events to a Google Cloud Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

func NewPubSubPublisher(ctx context.Context, projectID, topicName, credentialsFile string) (*PubSubPublisher, error) {
	client, err := newPubSubClient(ctx, projectID, credentialsFile)
	if err != nil {
		return nil, err
	}
	return &PubSubPublisher{client: client, topic: client.Topic(topicName)}, nil
}

func (p *PubSubPublisher) Publish(ctx context.Context, event *EmailEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"type":       event.Type,
			"company_id": event.CompanyID,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.topic.ID(), err)
	}
	return nil
}

// Close flushes pending messages and releases the client.
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}

func newPubSubClient(ctx context.Context, projectID, credentialsFile string) (*pubsub.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return client, nil
}
