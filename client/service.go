package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/fedids/pkg/fl"
	"github.com/absmach/fedids/pkg/mqtt"
	"github.com/absmach/fedids/pkg/orchestration"
	"github.com/cenkalti/backoff/v5"
)

const (
	defaultLivenessInterval = 10 * time.Second
	defaultAckTimeout       = 5 * time.Second
	defaultRegisterTimeout  = 5 * time.Minute
	shutdownTimeout         = 5 * time.Second
	workQueueSize           = 4
)

var (
	errNoAck         = errors.New("no registration ack from coordinator")
	errUnknownOp     = errors.New("unknown request op")
	errQueueFull     = errors.New("dispatch queue is full")
	errMissingRound  = errors.New("dispatch without round number")
	errMissingParams = errors.New("message without parameters")
)

type Config struct {
	DomainID         string
	ChannelID        string
	Name             string
	LivenessInterval time.Duration
	// AckTimeout bounds the wait for one registration ack before the
	// registration is published again.
	AckTimeout time.Duration
	// RegisterTimeout bounds the whole registration handshake.
	RegisterTimeout time.Duration
}

// Service connects an Agent to the coordinator over MQTT.
type Service struct {
	cfg    Config
	agent  *Agent
	pubsub mqtt.PubSub
	topics *orchestration.TopicBuilder
	codec  orchestration.Codec
	logger *slog.Logger

	acks chan orchestration.RegisterAck
	work chan orchestration.DispatchMessage

	mu        sync.Mutex
	runID     string
	lastRound uint64
}

func NewService(cfg Config, agent *Agent, pubsub mqtt.PubSub, codec orchestration.Codec, logger *slog.Logger) *Service {
	if cfg.LivenessInterval <= 0 {
		cfg.LivenessInterval = defaultLivenessInterval
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if cfg.RegisterTimeout <= 0 {
		cfg.RegisterTimeout = defaultRegisterTimeout
	}

	return &Service{
		cfg:    cfg,
		agent:  agent,
		pubsub: pubsub,
		topics: orchestration.NewTopicBuilder(cfg.DomainID, cfg.ChannelID),
		codec:  codec,
		logger: logger,
		acks:   make(chan orchestration.RegisterAck, 1),
		work:   make(chan orchestration.DispatchMessage, workQueueSize),
	}
}

// Run subscribes to the client topics, registers with the coordinator and
// serves dispatches until ctx is done. On return the client announces its
// disconnect.
func (s *Service) Run(ctx context.Context) error {
	id := s.agent.ID()
	handlers := map[string]mqtt.Handler{
		s.topics.RegisterAckTopic(id): s.handleRegisterAck,
		s.topics.DispatchTopic(id):    s.handleDispatch,
		s.topics.RequestsTopic(id):    s.handleRequest(ctx),
	}
	for topic, handler := range handlers {
		if err := s.pubsub.Subscribe(ctx, topic, handler); err != nil {
			return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
		}
	}

	ack, err := s.Register(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("registered with coordinator",
		slog.String("client_id", id),
		slog.String("run_id", ack.RunID),
		slog.Uint64("next_round", ack.NextRound),
	)

	go s.startLivenessUpdates(ctx)
	go s.processDispatches(ctx)

	<-ctx.Done()

	return s.disconnect()
}

// Register publishes the registration until the coordinator acknowledges it,
// backing off exponentially between attempts.
func (s *Service) Register(ctx context.Context) (orchestration.RegisterAck, error) {
	msg := orchestration.RegisterMessage{
		ClientID:   s.agent.ID(),
		Name:       s.cfg.Name,
		NumSamples: s.agent.NumSamples(),
	}

	attempt := func() (orchestration.RegisterAck, error) {
		if err := s.pubsub.Publish(ctx, s.topics.RegisterTopic(), msg); err != nil {
			return orchestration.RegisterAck{}, err
		}

		timer := time.NewTimer(s.cfg.AckTimeout)
		defer timer.Stop()

		select {
		case ack := <-s.acks:
			return ack, nil
		case <-timer.C:
			return orchestration.RegisterAck{}, errNoAck
		case <-ctx.Done():
			return orchestration.RegisterAck{}, backoff.Permanent(ctx.Err())
		}
	}

	ack, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(s.cfg.RegisterTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("registration not acknowledged, retrying",
				slog.Any("error", err),
				slog.String("retry_in", next.String()),
			)
		}),
	)
	if err != nil {
		return orchestration.RegisterAck{}, fmt.Errorf("failed to register: %w", err)
	}

	return ack, nil
}

func (s *Service) handleRegisterAck(_ string, payload []byte) error {
	var ack orchestration.RegisterAck
	if err := json.Unmarshal(payload, &ack); err != nil {
		return err
	}
	if ack.ClientID != s.agent.ID() {
		return nil
	}

	select {
	case s.acks <- ack:
	default:
	}

	return nil
}

// handleDispatch acknowledges a round and queues it for training. Each round
// is trained at most once.
func (s *Service) handleDispatch(_ string, payload []byte) error {
	var msg orchestration.DispatchMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	if msg.Round == 0 {
		return errMissingRound
	}

	s.mu.Lock()
	if msg.RunID == s.runID && msg.Round <= s.lastRound {
		s.mu.Unlock()
		s.logger.Warn("ignoring repeated dispatch", slog.Uint64("round", msg.Round))

		return nil
	}
	s.runID, s.lastRound = msg.RunID, msg.Round
	s.mu.Unlock()

	ack := orchestration.DispatchAckMessage{ClientID: s.agent.ID(), Round: msg.Round}
	if err := s.pubsub.Publish(context.Background(), s.topics.DispatchAckTopic(), ack); err != nil {
		s.logger.Warn("failed to acknowledge dispatch", slog.Uint64("round", msg.Round), slog.Any("error", err))
	}

	select {
	case s.work <- msg:
		return nil
	default:
		return errQueueFull
	}
}

func (s *Service) processDispatches(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.work:
			s.train(ctx, msg)
		}
	}
}

func (s *Service) train(ctx context.Context, msg orchestration.DispatchMessage) {
	if !msg.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, msg.Deadline)
		defer cancel()
	}

	start := time.Now()
	submit := orchestration.SubmitMessage{
		ClientID: s.agent.ID(),
		RunID:    msg.RunID,
		Round:    msg.Round,
	}

	update, err := s.fit(ctx, msg)
	if err == nil {
		submit.Parameters, err = s.codec.Encode(update.Parameters)
	}
	if err != nil {
		s.logger.Warn("local training failed",
			slog.Uint64("round", msg.Round),
			slog.Any("error", err),
		)
		submit.Error = err.Error()
	} else {
		submit.NumSamples = update.NumSamples
		submit.Metrics = update.Metrics
		s.logger.Info("local training completed",
			slog.Uint64("round", msg.Round),
			slog.Int("num_samples", update.NumSamples),
			slog.Any("metrics", update.Metrics),
			slog.String("duration", time.Since(start).String()),
		)
	}

	if err := s.pubsub.Publish(context.WithoutCancel(ctx), s.topics.SubmitTopic(), submit); err != nil {
		s.logger.Error("failed to submit round result", slog.Uint64("round", msg.Round), slog.Any("error", err))
	}
}

func (s *Service) fit(ctx context.Context, msg orchestration.DispatchMessage) (update fl.ClientUpdate, err error) {
	params, err := s.decode(msg.Parameters)
	if err != nil {
		return update, &Error{ClientID: s.agent.ID(), Op: OpFit, Err: err}
	}

	return s.agent.Fit(ctx, params, msg.Config)
}

func (s *Service) handleRequest(ctx context.Context) mqtt.Handler {
	return func(_ string, payload []byte) error {
		var req orchestration.RequestMessage
		if err := json.Unmarshal(payload, &req); err != nil {
			return err
		}

		go s.reply(ctx, req)

		return nil
	}
}

func (s *Service) reply(ctx context.Context, req orchestration.RequestMessage) {
	rep := orchestration.ReplyMessage{
		RequestID: req.ID,
		ClientID:  s.agent.ID(),
	}

	var err error
	switch req.Op {
	case orchestration.OpGetParameters:
		var params fl.ParameterSet
		if params, err = s.agent.GetParameters(ctx); err == nil {
			rep.Parameters, err = s.codec.Encode(params)
		}
	case orchestration.OpEvaluate:
		var params fl.ParameterSet
		if params, err = s.decode(req.Parameters); err == nil {
			rep.Loss, rep.NumSamples, rep.Metrics, err = s.agent.Evaluate(ctx, params, req.Config)
		}
	default:
		err = fmt.Errorf("%w: %q", errUnknownOp, req.Op)
	}
	if err != nil {
		rep.Error = err.Error()
	}

	if err := s.pubsub.Publish(ctx, s.topics.RepliesTopic(), rep); err != nil {
		s.logger.Error("failed to publish reply", slog.String("request_id", req.ID), slog.Any("error", err))
	}
}

func (s *Service) decode(payload []byte) (fl.ParameterSet, error) {
	if len(payload) == 0 {
		return nil, errMissingParams
	}

	return s.codec.Decode(payload)
}

func (s *Service) startLivenessUpdates(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.LivenessInterval)
	defer ticker.Stop()

	msg := orchestration.StatusMessage{ClientID: s.agent.ID(), Status: orchestration.StatusAlive}
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping liveness updates")

			return
		case <-ticker.C:
			if err := s.pubsub.Publish(ctx, s.topics.AliveTopic(), msg); err != nil {
				s.logger.Error("failed to publish liveness message", slog.Any("error", err))
			}
		}
	}
}

func (s *Service) disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	msg := orchestration.StatusMessage{ClientID: s.agent.ID(), Status: orchestration.StatusOffline}
	if err := s.pubsub.Publish(ctx, s.topics.DisconnectTopic(), msg); err != nil {
		return fmt.Errorf("failed to publish disconnect: %w", err)
	}

	return nil
}

// LastWill is the message the broker publishes when the client vanishes.
func LastWill(domainID, channelID, clientID string) *mqtt.Will {
	return &mqtt.Will{
		Topic:   orchestration.NewTopicBuilder(domainID, channelID).DisconnectTopic(),
		Payload: orchestration.StatusMessage{ClientID: clientID, Status: orchestration.StatusOffline},
	}
}
