package events

import (
	"context"
	"time"

	"github.com/absmach/fedids/pkg/mqtt"
	"github.com/absmach/fedids/pkg/orchestration"
)

const (
	ClientRegistered   = "client.registered"
	ClientDisconnected = "client.disconnected"
	RoundStarted       = "round.started"
	RoundFinished      = "round.finished"
	RunFinished        = "run.finished"
)

// Event is the payload published on the events topic.
type Event struct {
	Type         string                     `json:"type"`
	RunID        string                     `json:"run_id,omitempty"`
	Round        uint64                     `json:"round,omitempty"`
	ClientID     string                     `json:"client_id,omitempty"`
	Participants []string                   `json:"participants,omitempty"`
	Report       *orchestration.RoundReport `json:"report,omitempty"`
	Result       *orchestration.RunResult   `json:"result,omitempty"`
	Timestamp    time.Time                  `json:"timestamp"`
}

type mqttEmitter struct {
	pubsub mqtt.PubSub
	topic  string
}

func NewMQTTEventEmitter(pubsub mqtt.PubSub, topics *orchestration.TopicBuilder) orchestration.EventEmitter {
	return &mqttEmitter{
		pubsub: pubsub,
		topic:  topics.EventsTopic(),
	}
}

func (e *mqttEmitter) EmitClientRegistered(ctx context.Context, c orchestration.Client) error {
	return e.publish(ctx, Event{Type: ClientRegistered, ClientID: c.ID})
}

func (e *mqttEmitter) EmitClientDisconnected(ctx context.Context, clientID string) error {
	return e.publish(ctx, Event{Type: ClientDisconnected, ClientID: clientID})
}

func (e *mqttEmitter) EmitRoundStarted(ctx context.Context, runID string, round uint64, participants []string) error {
	return e.publish(ctx, Event{
		Type:         RoundStarted,
		RunID:        runID,
		Round:        round,
		Participants: participants,
	})
}

func (e *mqttEmitter) EmitRoundFinished(ctx context.Context, report orchestration.RoundReport) error {
	return e.publish(ctx, Event{
		Type:   RoundFinished,
		RunID:  report.RunID,
		Round:  report.Round,
		Report: &report,
	})
}

func (e *mqttEmitter) EmitRunFinished(ctx context.Context, result orchestration.RunResult) error {
	return e.publish(ctx, Event{
		Type:   RunFinished,
		RunID:  result.RunID,
		Result: &result,
	})
}

func (e *mqttEmitter) publish(ctx context.Context, ev Event) error {
	ev.Timestamp = time.Now().UTC()

	return e.pubsub.Publish(ctx, e.topic, ev)
}
