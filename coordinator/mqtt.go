package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/fedids/pkg/fl"
	"github.com/absmach/fedids/pkg/mqtt"
	"github.com/absmach/fedids/pkg/orchestration"
)

var (
	namegen = namegenerator.NewGenerator()

	errMissingClientID = errors.New("message without client id")
)

func (svc *service) Subscribe(ctx context.Context) error {
	handlers := map[string]mqtt.Handler{
		svc.topics.RegisterTopic():    svc.handleRegister(ctx),
		svc.topics.DispatchAckTopic(): svc.handleDispatchAck(ctx),
		svc.topics.SubmitTopic():      svc.handleSubmit(ctx),
		svc.topics.DisconnectTopic():  svc.handleDisconnect(ctx),
		svc.topics.AliveTopic():       svc.handleAlive(ctx),
		svc.topics.RepliesTopic():     svc.handleReply,
	}
	for topic, handler := range handlers {
		if err := svc.pubsub.Subscribe(ctx, topic, handler); err != nil {
			return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
		}
	}

	return nil
}

func (svc *service) handleRegister(ctx context.Context) mqtt.Handler {
	return func(_ string, payload []byte) error {
		var msg orchestration.RegisterMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return err
		}
		if msg.ClientID == "" {
			return errMissingClientID
		}
		if msg.Name == "" {
			msg.Name = namegen.Generate()
		}

		ack, err := svc.coord.Register(ctx, msg.ClientID, msg.Name, msg.NumSamples)
		if err != nil {
			return err
		}
		svc.logger.InfoContext(ctx, "client registered",
			slog.String("client_id", msg.ClientID),
			slog.String("name", msg.Name),
			slog.Int("num_samples", msg.NumSamples),
			slog.Uint64("next_round", ack.NextRound),
		)

		return svc.pubsub.Publish(ctx, svc.topics.RegisterAckTopic(msg.ClientID), ack)
	}
}

func (svc *service) handleDispatchAck(ctx context.Context) mqtt.Handler {
	return func(_ string, payload []byte) error {
		var msg orchestration.DispatchAckMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return err
		}

		err := svc.coord.AckDispatch(ctx, msg.ClientID, msg.Round)
		if errors.Is(err, orchestration.ErrStaleSubmission) || errors.Is(err, orchestration.ErrNotParticipant) {
			svc.logger.DebugContext(ctx, "ignoring dispatch ack",
				slog.String("client_id", msg.ClientID),
				slog.Uint64("round", msg.Round),
				slog.Any("error", err),
			)

			return nil
		}

		return err
	}
}

// handleSubmit feeds a client result into the active round. Stale and
// repeated results are logged and dropped.
func (svc *service) handleSubmit(ctx context.Context) mqtt.Handler {
	return func(_ string, payload []byte) error {
		var msg orchestration.SubmitMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return err
		}
		if msg.ClientID == "" {
			return errMissingClientID
		}

		if runID := svc.coord.Status().RunID; msg.RunID != "" && msg.RunID != runID {
			svc.logger.WarnContext(ctx, "discarded result of another run",
				slog.String("client_id", msg.ClientID),
				slog.String("run_id", msg.RunID),
				slog.Uint64("round", msg.Round),
			)

			return nil
		}

		err := svc.coord.Submit(ctx, msg.ClientID, msg.Round, svc.result(msg))
		switch {
		case errors.Is(err, orchestration.ErrStaleSubmission),
			errors.Is(err, orchestration.ErrDuplicateSubmission),
			errors.Is(err, orchestration.ErrNotParticipant):
			svc.logger.WarnContext(ctx, "discarded result",
				slog.String("client_id", msg.ClientID),
				slog.Uint64("round", msg.Round),
				slog.Any("error", err),
			)

			return nil
		case err != nil:
			return err
		}

		svc.logger.DebugContext(ctx, "result received",
			slog.String("client_id", msg.ClientID),
			slog.Uint64("round", msg.Round),
			slog.Int("num_samples", msg.NumSamples),
		)

		return nil
	}
}

func (svc *service) result(msg orchestration.SubmitMessage) orchestration.Result {
	if msg.Error != "" {
		return orchestration.Result{Error: msg.Error}
	}

	params, err := svc.codec.Decode(msg.Parameters)
	if err != nil {
		return orchestration.Result{Error: fmt.Sprintf("failed to decode parameters: %v", err)}
	}

	return orchestration.Result{
		Update: &fl.ClientUpdate{
			Parameters: params,
			NumSamples: msg.NumSamples,
			Metrics:    msg.Metrics,
		},
	}
}

func (svc *service) handleDisconnect(ctx context.Context) mqtt.Handler {
	return func(_ string, payload []byte) error {
		var msg orchestration.StatusMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return err
		}

		err := svc.coord.Disconnect(ctx, msg.ClientID)
		if errors.Is(err, orchestration.ErrUnknownClient) {
			return nil
		}
		if err != nil {
			return err
		}
		svc.logger.InfoContext(ctx, "client disconnected", slog.String("client_id", msg.ClientID))

		return nil
	}
}

func (svc *service) handleAlive(ctx context.Context) mqtt.Handler {
	return func(_ string, payload []byte) error {
		var msg orchestration.StatusMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return err
		}

		err := svc.coord.Heartbeat(ctx, msg.ClientID)
		if errors.Is(err, orchestration.ErrUnknownClient) {
			svc.logger.DebugContext(ctx, "heartbeat from unregistered client", slog.String("client_id", msg.ClientID))

			return nil
		}

		return err
	}
}

func (svc *service) handleReply(_ string, payload []byte) error {
	var rep orchestration.ReplyMessage
	if err := json.Unmarshal(payload, &rep); err != nil {
		return err
	}
	if !svc.resolve(rep) {
		svc.logger.Debug("reply without pending request", slog.String("request_id", rep.RequestID))
	}

	return nil
}
