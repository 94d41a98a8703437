package executor

import (
	"context"
	"fmt"

	"github.com/absmach/fedids/pkg/mqtt"
	"github.com/absmach/fedids/pkg/orchestration"
)

type mqttDispatcher struct {
	pubsub mqtt.PubSub
	topics *orchestration.TopicBuilder
	codec  orchestration.Codec
}

// NewMQTTDispatcher publishes each round on the dispatch topic of the client.
func NewMQTTDispatcher(pubsub mqtt.PubSub, topics *orchestration.TopicBuilder, codec orchestration.Codec) orchestration.Dispatcher {
	return &mqttDispatcher{
		pubsub: pubsub,
		topics: topics,
		codec:  codec,
	}
}

func (d *mqttDispatcher) Dispatch(ctx context.Context, clientID string, dispatch orchestration.Dispatch) error {
	params, err := d.codec.Encode(dispatch.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode round %d: %w", dispatch.Round, err)
	}

	msg := orchestration.DispatchMessage{
		RunID:      dispatch.RunID,
		Round:      dispatch.Round,
		Parameters: params,
		Config:     dispatch.Config,
		Deadline:   dispatch.Deadline,
	}

	return d.pubsub.Publish(ctx, d.topics.DispatchTopic(clientID), msg)
}
