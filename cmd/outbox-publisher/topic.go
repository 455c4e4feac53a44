package main

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type pinger interface {
	Ping(context.Context) error
}

// domainTopic binds the shared pubsub client to the configured domain topic.
type domainTopic struct {
	client    pinger
	publisher *gcppubsub.Publisher
}

func newDomainTopic(client pinger, publisher *gcppubsub.Publisher) (*domainTopic, error) {
	if client == nil || publisher == nil {
		return nil, errors.New("domain topic publisher not configured")
	}
	return &domainTopic{client: client, publisher: publisher}, nil
}

func (t *domainTopic) Ping(ctx context.Context) error {
	return t.client.Ping(ctx)
}

func (t *domainTopic) Publish(ctx context.Context, msg *gcppubsub.Message) (string, error) {
	return t.publisher.Publish(ctx, msg).Get(ctx)
}

// Stop flushes buffered messages before shutdown.
func (t *domainTopic) Stop() {
	t.publisher.Stop()
}
