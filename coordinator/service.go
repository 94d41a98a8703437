package coordinator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/absmach/fedids/pkg/checkpoint"
	"github.com/absmach/fedids/pkg/dataset"
	"github.com/absmach/fedids/pkg/evaluator"
	"github.com/absmach/fedids/pkg/fl"
	"github.com/absmach/fedids/pkg/mqtt"
	"github.com/absmach/fedids/pkg/orchestration"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWaitTimeout    = 5 * time.Minute
	defaultRequestTimeout = 30 * time.Second
	waitPollInterval      = time.Second
	maxClients            = 1 << 16
)

// RoundRepository is the read side of the round history.
type RoundRepository interface {
	ListRounds(ctx context.Context, runID string, offset, limit uint64) ([]orchestration.RoundReport, uint64, error)
}

type service struct {
	cfg       Config
	coord     *orchestration.Coordinator
	registry  orchestration.Registry
	store     checkpoint.Store
	rounds    RoundRepository
	pubsub    mqtt.PubSub
	topics    *orchestration.TopicBuilder
	codec     orchestration.Codec
	evaluator *evaluator.Evaluator
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	lastRun *RunSummary

	pendingMu sync.Mutex
	pending   map[string]chan orchestration.ReplyMessage
}

func NewService(
	cfg Config, coord *orchestration.Coordinator, registry orchestration.Registry,
	store checkpoint.Store, rounds RoundRepository, pubsub mqtt.PubSub,
	codec orchestration.Codec, logger *slog.Logger,
) Service {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.AliveTimeout <= 0 {
		cfg.AliveTimeout = orchestration.DefaultAliveTimeout
	}
	cfg.MinAvailableClients = max(cfg.MinAvailableClients, 1)

	return &service{
		cfg:       cfg,
		coord:     coord,
		registry:  registry,
		store:     store,
		rounds:    rounds,
		pubsub:    pubsub,
		topics:    orchestration.NewTopicBuilder(cfg.DomainID, cfg.ChannelID),
		codec:     codec,
		evaluator: evaluator.New(store, nil),
		logger:    logger,
		pending:   make(map[string]chan orchestration.ReplyMessage),
	}
}

func (svc *service) StartRun(ctx context.Context, cfg orchestration.RunConfig) (orchestration.RunConfig, error) {
	if err := cfg.Validate(); err != nil {
		return orchestration.RunConfig{}, err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := svc.acquire(cancel); err != nil {
		cancel()

		return orchestration.RunConfig{}, err
	}

	go func() {
		defer cancel()
		defer svc.release()

		if _, err := svc.run(runCtx, cfg); err != nil {
			svc.logger.Error("run failed", slog.String("run_id", cfg.ID), slog.Any("error", err))
		}
	}()

	return cfg, nil
}

func (svc *service) Run(ctx context.Context, cfg orchestration.RunConfig) (orchestration.RunResult, error) {
	if err := cfg.Validate(); err != nil {
		return orchestration.RunResult{}, err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := svc.acquire(cancel); err != nil {
		return orchestration.RunResult{}, err
	}
	defer svc.release()

	return svc.run(ctx, cfg)
}

func (svc *service) StopRun(_ context.Context) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if !svc.running {
		return ErrNoActiveRun
	}
	svc.cancel()

	return nil
}

func (svc *service) run(ctx context.Context, cfg orchestration.RunConfig) (orchestration.RunResult, error) {
	if err := svc.waitForClients(ctx); err != nil {
		return svc.finish(orchestration.RunResult{RunID: cfg.ID, Phase: orchestration.Aborted, Error: err.Error()}, err)
	}

	initial, err := svc.initialParameters(ctx, &cfg)
	if err != nil {
		return svc.finish(orchestration.RunResult{RunID: cfg.ID, Phase: orchestration.Aborted, Error: err.Error()}, err)
	}

	result, err := svc.coord.Run(ctx, initial, cfg)

	return svc.finish(result, err)
}

func (svc *service) finish(result orchestration.RunResult, err error) (orchestration.RunResult, error) {
	summary := RunSummary{RunResult: result}
	if err == nil && svc.cfg.TestData != "" && len(result.Final) > 0 {
		report, terr := svc.evaluateTestData(result.Final)
		if terr != nil {
			svc.logger.Warn("failed to evaluate final model", slog.String("test_data", svc.cfg.TestData), slog.Any("error", terr))
		} else {
			summary.Test = &report
			svc.logger.Info("final model evaluated",
				slog.String("run_id", result.RunID),
				slog.Float64("accuracy", report.Accuracy),
				slog.Float64("precision", report.Precision),
				slog.Float64("recall", report.Recall),
				slog.Float64("f1", report.F1),
			)
		}
	}

	svc.mu.Lock()
	svc.lastRun = &summary
	svc.mu.Unlock()

	return result, err
}

func (svc *service) evaluateTestData(ps fl.ParameterSet) (evaluator.Report, error) {
	data, err := dataset.Load(svc.cfg.TestData)
	if err != nil {
		return evaluator.Report{}, err
	}

	return svc.evaluator.Evaluate(ps, data)
}

func (svc *service) acquire(cancel context.CancelFunc) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.running {
		return orchestration.ErrRunInProgress
	}
	svc.running = true
	svc.cancel = cancel

	return nil
}

func (svc *service) release() {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	svc.running = false
	svc.cancel = nil
}

// waitForClients blocks until MinAvailableClients clients are alive.
func (svc *service) waitForClients(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, svc.cfg.WaitTimeout)
	defer cancel()

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		alive, err := svc.aliveClients(ctx)
		if err != nil {
			return err
		}
		if len(alive) >= svc.cfg.MinAvailableClients {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %d of %d", ErrNotEnoughClients, len(alive), svc.cfg.MinAvailableClients)
		case <-ticker.C:
		}
	}
}

// initialParameters resumes from the latest checkpoint or, on an empty
// store, asks a client for its freshly initialized parameters.
func (svc *service) initialParameters(ctx context.Context, cfg *orchestration.RunConfig) (fl.ParameterSet, error) {
	latest, err := svc.store.Latest(ctx)
	switch {
	case err == nil:
		cfg.StartRound = max(cfg.StartRound, latest.Round+1)
		svc.logger.Info("resuming from checkpoint",
			slog.Uint64("checkpoint_round", latest.Round),
			slog.Uint64("start_round", cfg.StartRound),
		)

		return latest.Parameters, nil
	case errors.Is(err, checkpoint.ErrNotFound):
		return svc.bootstrap(ctx)
	default:
		return nil, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}
}

func (svc *service) bootstrap(ctx context.Context) (fl.ParameterSet, error) {
	alive, err := svc.aliveClients(ctx)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, c := range alive {
		rep, err := svc.request(ctx, c.ID, orchestration.RequestMessage{Op: orchestration.OpGetParameters})
		if err == nil {
			var params fl.ParameterSet
			if params, err = svc.codec.Decode(rep.Parameters); err == nil {
				svc.logger.Info("initial parameters received", slog.String("client_id", c.ID))

				return params, nil
			}
		}
		errs = append(errs, fmt.Errorf("client %s: %w", c.ID, err))
	}

	return nil, errors.Join(append([]error{ErrBootstrap}, errs...)...)
}

func (svc *service) aliveClients(ctx context.Context) ([]orchestration.Client, error) {
	clients, _, err := svc.registry.ListClients(ctx, 0, maxClients)
	if err != nil {
		return nil, err
	}

	alive := slices.DeleteFunc(clients, func(c orchestration.Client) bool {
		return !c.Alive
	})
	slices.SortFunc(alive, func(a, b orchestration.Client) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return alive, nil
}

// request publishes req to a client and waits for the matching reply.
func (svc *service) request(ctx context.Context, clientID string, req orchestration.RequestMessage) (orchestration.ReplyMessage, error) {
	req.ID = uuid.NewString()
	ch := make(chan orchestration.ReplyMessage, 1)

	svc.pendingMu.Lock()
	svc.pending[req.ID] = ch
	svc.pendingMu.Unlock()
	defer func() {
		svc.pendingMu.Lock()
		delete(svc.pending, req.ID)
		svc.pendingMu.Unlock()
	}()

	if err := svc.pubsub.Publish(ctx, svc.topics.RequestsTopic(clientID), req); err != nil {
		return orchestration.ReplyMessage{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, svc.cfg.RequestTimeout)
	defer cancel()

	select {
	case rep := <-ch:
		if rep.Error != "" {
			return rep, errors.New(rep.Error)
		}

		return rep, nil
	case <-ctx.Done():
		return orchestration.ReplyMessage{}, fmt.Errorf("%s request: %w", req.Op, ctx.Err())
	}
}

func (svc *service) resolve(rep orchestration.ReplyMessage) bool {
	svc.pendingMu.Lock()
	ch, ok := svc.pending[rep.RequestID]
	svc.pendingMu.Unlock()
	if !ok {
		return false
	}

	select {
	case ch <- rep:
	default:
	}

	return true
}

func (svc *service) Status(_ context.Context) (orchestration.Status, error) {
	return svc.coord.Status(), nil
}

func (svc *service) LastRun(_ context.Context) (RunSummary, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.lastRun == nil {
		return RunSummary{}, ErrNoRun
	}

	return *svc.lastRun, nil
}

func (svc *service) GetClient(ctx context.Context, clientID string) (orchestration.Client, error) {
	return svc.registry.GetClient(ctx, clientID)
}

func (svc *service) ListClients(ctx context.Context, offset, limit uint64) (orchestration.ClientPage, error) {
	clients, total, err := svc.registry.ListClients(ctx, offset, limit)
	if err != nil {
		return orchestration.ClientPage{}, err
	}

	return orchestration.ClientPage{
		Offset:  offset,
		Limit:   limit,
		Total:   total,
		Clients: clients,
	}, nil
}

func (svc *service) ListRounds(ctx context.Context, runID string, offset, limit uint64) (orchestration.RoundReportPage, error) {
	reports, total, err := svc.rounds.ListRounds(ctx, runID, offset, limit)
	if err != nil {
		return orchestration.RoundReportPage{}, err
	}

	return orchestration.RoundReportPage{
		Offset:  offset,
		Limit:   limit,
		Total:   total,
		Reports: reports,
	}, nil
}

func (svc *service) ListCheckpoints(ctx context.Context) ([]checkpoint.Info, error) {
	return svc.store.List(ctx)
}

func (svc *service) GetCheckpoint(ctx context.Context, round uint64) (checkpoint.Checkpoint, error) {
	if round == 0 {
		return svc.store.Latest(ctx)
	}

	return svc.store.Load(ctx, round)
}

func (svc *service) EvaluateCheckpoint(ctx context.Context, round uint64, cfg fl.FitConfig) (Evaluation, error) {
	ckpt, err := svc.GetCheckpoint(ctx, round)
	if err != nil {
		return Evaluation{}, err
	}
	payload, err := svc.codec.Encode(ckpt.Parameters)
	if err != nil {
		return Evaluation{}, err
	}
	alive, err := svc.aliveClients(ctx)
	if err != nil {
		return Evaluation{}, err
	}

	var mu sync.Mutex
	eval := Evaluation{
		Round:    ckpt.Round,
		Clients:  make(map[string]ClientEvaluation),
		Failures: make(map[string]string),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range alive {
		g.Go(func() error {
			rep, err := svc.request(gctx, c.ID, orchestration.RequestMessage{
				Op:         orchestration.OpEvaluate,
				Parameters: payload,
				Config:     cfg,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				eval.Failures[c.ID] = err.Error()

				return nil
			}
			eval.Clients[c.ID] = ClientEvaluation{
				NumSamples: rep.NumSamples,
				Loss:       rep.Loss,
				Metrics:    rep.Metrics,
			}

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Evaluation{}, err
	}

	if len(eval.Clients) == 0 {
		return eval, ErrNoReplies
	}

	updates := make([]fl.ClientUpdate, 0, len(eval.Clients))
	for _, id := range slices.Sorted(maps.Keys(eval.Clients)) {
		ce := eval.Clients[id]
		metrics := maps.Clone(ce.Metrics)
		if metrics == nil {
			metrics = fl.Metrics{}
		}
		metrics["loss"] = ce.Loss
		updates = append(updates, fl.ClientUpdate{NumSamples: ce.NumSamples, Metrics: metrics})
		eval.NumSamples += ce.NumSamples
	}
	eval.Metrics = fl.WeightedMetrics(updates)
	eval.Loss = eval.Metrics["loss"]

	return eval, nil
}

func (svc *service) ExpireClients(ctx context.Context) ([]string, error) {
	return svc.coord.ExpireClients(ctx, svc.cfg.AliveTimeout)
}
