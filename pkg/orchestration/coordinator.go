package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/absmach/fedids/pkg/checkpoint"
	pkgerrors "github.com/absmach/fedids/pkg/errors"
	"github.com/absmach/fedids/pkg/fl"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const maxClients = 1 << 16

var (
	errClientDisconnected = errors.New("client disconnected during the round")
	errMissingUpdate      = errors.New("result carries neither an update nor an error")
	errNoResult           = errors.New("no result before the round closed")
)

type Option func(*Coordinator)

func WithSelector(s Selector) Option {
	return func(c *Coordinator) {
		c.selector = s
	}
}

func WithAggregator(a fl.Aggregator) Option {
	return func(c *Coordinator) {
		c.aggregator = a
	}
}

func WithEventEmitter(e EventEmitter) Option {
	return func(c *Coordinator) {
		c.events = e
	}
}

// Coordinator drives training rounds. It is the only writer of the round
// state and of checkpoints. Transport callbacks (Register, AckDispatch,
// Submit, Disconnect, Heartbeat) may be called from any goroutine.
type Coordinator struct {
	registry   Registry
	dispatcher Dispatcher
	store      checkpoint.Store
	aggregator fl.Aggregator
	selector   Selector
	events     EventEmitter
	logger     *slog.Logger

	mu             sync.Mutex
	sm             *StateMachine
	runID          string
	round          *RoundState
	lastRound      uint64
	global         fl.ParameterSet
	aggregate      fl.ParameterSet
	globalMetrics  fl.Metrics
	lastCheckpoint uint64
	reports        []RoundReport
	notify         chan struct{}
}

func NewCoordinator(registry Registry, dispatcher Dispatcher, store checkpoint.Store, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:   registry,
		dispatcher: dispatcher,
		store:      store,
		aggregator: fl.NewFedAvg(),
		selector:   SelectAll,
		events:     noopEmitter{},
		logger:     logger,
		sm:         NewStateMachine(),
		notify:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Run drives cfg.Rounds rounds starting from initial and ends in Completed,
// or in Aborted with the error of the failing round. A coordinator can run
// again once the previous run has finished.
func (c *Coordinator) Run(ctx context.Context, initial fl.ParameterSet, cfg RunConfig) (RunResult, error) {
	if err := cfg.Validate(); err != nil {
		return RunResult{}, err
	}
	if len(initial) == 0 {
		return RunResult{}, ErrNoInitialParameters
	}
	first := max(cfg.StartRound, 1)
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	c.mu.Lock()
	if err := c.sm.Reset(); err != nil {
		c.mu.Unlock()

		return RunResult{}, err
	}
	c.runID = cfg.ID
	c.round = nil
	c.global = initial.Clone()
	c.aggregate = nil
	c.globalMetrics = nil
	c.lastRound = first - 1
	c.lastCheckpoint = first - 1
	c.reports = nil
	c.mu.Unlock()

	c.logger.Info("run started",
		slog.String("run_id", cfg.ID),
		slog.Uint64("first_round", first),
		slog.Uint64("rounds", cfg.Rounds),
	)

	err := c.runRounds(ctx, first, cfg)

	c.mu.Lock()
	if err != nil && !c.sm.IsTerminal() {
		if terr := c.sm.Transition(Aborted); terr != nil {
			err = errors.Join(err, terr)
		}
	}
	result := c.resultLocked(err)
	c.mu.Unlock()

	c.emit(ctx, "run finished", func(ctx context.Context) error {
		return c.events.EmitRunFinished(ctx, result)
	})

	return result, err
}

func (c *Coordinator) runRounds(ctx context.Context, first uint64, cfg RunConfig) error {
	for n := first; n < first+cfg.Rounds; n++ {
		if err := c.StartRound(ctx, n, c.Global(), cfg.Round); err != nil {
			return err
		}
		if err := c.AwaitResults(ctx); err != nil {
			return err
		}
		if err := c.Aggregate(ctx); err != nil {
			return err
		}
		if _, err := c.Checkpoint(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sm.Transition(Completed)
}

// StartRound snapshots the alive clients as participants and dispatches
// params to each of them. Clients that register later wait for the next
// round. A failed dispatch counts as a disconnect of that client.
func (c *Coordinator) StartRound(ctx context.Context, number uint64, params fl.ParameterSet, cfg RoundConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(params) == 0 {
		return ErrNoInitialParameters
	}

	participants, err := c.selectParticipants(ctx, cfg.TargetClients)
	if err != nil {
		return fmt.Errorf("round %d: failed to select clients: %w", number, err)
	}

	c.mu.Lock()
	if number <= c.lastRound {
		c.mu.Unlock()

		return fmt.Errorf("%w: %d after %d", ErrInvalidRound, number, c.lastRound)
	}
	if err := c.sm.Transition(DispatchingRound); err != nil {
		c.mu.Unlock()

		return err
	}

	now := time.Now()
	round := &RoundState{
		Number:       number,
		Config:       cfg,
		Dispatched:   params.Clone(),
		Participants: participants,
		Pending:      make(map[string]struct{}, len(participants)),
		Acked:        make(map[string]time.Time),
		Failed:       make(map[string]ClientFailure),
		StartedAt:    now,
		Deadline:     now.Add(cfg.Timeout),
	}
	for _, id := range participants {
		round.Pending[id] = struct{}{}
	}
	c.round = round
	c.lastRound = number
	c.aggregate = nil
	select {
	case <-c.notify:
	default:
	}
	d := Dispatch{
		RunID:      c.runID,
		Round:      number,
		Parameters: round.Dispatched,
		Config:     cfg.Fit,
		Deadline:   round.Deadline,
	}
	c.mu.Unlock()

	var g errgroup.Group
	for _, id := range participants {
		g.Go(func() error {
			if err := c.dispatcher.Dispatch(ctx, id, d); err != nil {
				c.logger.Warn("failed to dispatch round",
					slog.Uint64("round", number),
					slog.String("client_id", id),
					slog.Any("error", err),
				)
				c.mu.Lock()
				c.recordFailure(number, id, FailureDisconnect, err)
				c.mu.Unlock()
			}

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.mu.Lock()
	err = c.sm.Transition(CollectingResults)
	runID := d.RunID
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.logger.Info("round started",
		slog.String("run_id", runID),
		slog.Uint64("round", number),
		slog.Any("participants", participants),
	)
	c.emit(ctx, "round started", func(ctx context.Context) error {
		return c.events.EmitRoundStarted(ctx, runID, number, slices.Clone(participants))
	})

	return nil
}

// AwaitResults blocks until enough participants responded or the round
// deadline passes. Participants without a response are recorded as timed
// out. The round moves on to aggregation when at least MinFitClients updates
// arrived and is aborted with ErrQuorumNotMet otherwise.
func (c *Coordinator) AwaitResults(ctx context.Context) error {
	c.mu.Lock()
	if c.sm.Phase() != CollectingResults || c.round == nil {
		c.mu.Unlock()

		return ErrRoundNotActive
	}
	round := c.round
	c.mu.Unlock()

	timer := time.NewTimer(time.Until(round.Deadline))
	defer timer.Stop()

	for {
		c.mu.Lock()
		done := round.responded() >= round.waitTarget()
		c.mu.Unlock()
		if done {
			return c.closeCollection(ctx, nil)
		}

		select {
		case <-c.notify:
		case <-timer.C:
			return c.closeCollection(ctx, nil)
		case <-ctx.Done():
			return c.closeCollection(ctx, ctx.Err())
		}
	}
}

func (c *Coordinator) closeCollection(ctx context.Context, cause error) error {
	c.mu.Lock()
	r := c.round
	for id := range r.Pending {
		r.Failed[id] = ClientFailure{ClientID: id, Reason: FailureTimeout, Error: errNoResult.Error()}
	}
	clear(r.Pending)

	var err error
	switch {
	case cause != nil:
		err = fmt.Errorf("round %d: collection interrupted: %w", r.Number, cause)
	case len(r.Received) < r.Config.MinFitClients:
		err = fmt.Errorf("round %d: %w: %d of %d required updates", r.Number, ErrQuorumNotMet, len(r.Received), r.Config.MinFitClients)
	}
	if err != nil {
		report := c.abortLocked(err)
		c.mu.Unlock()
		c.roundFinished(ctx, report)

		return err
	}

	received, failed := len(r.Received), len(r.Failed)
	err = c.sm.Transition(Aggregating)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.logger.Info("round results collected",
		slog.Uint64("round", r.Number),
		slog.Int("received", received),
		slog.Int("failed", failed),
	)

	return nil
}

// Aggregate combines the received updates with the configured aggregator,
// weighting each by its sample count. Updates are ordered by client id so
// the result does not depend on arrival order.
func (c *Coordinator) Aggregate(ctx context.Context) error {
	c.mu.Lock()
	if phase := c.sm.Phase(); phase != Aggregating {
		c.mu.Unlock()

		return fmt.Errorf("%w: aggregate in %s", ErrInvalidStateTransition, phase)
	}
	number := c.round.Number
	received := slices.Clone(c.round.Received)
	c.mu.Unlock()

	slices.SortFunc(received, func(a, b Submission) int {
		return strings.Compare(a.ClientID, b.ClientID)
	})
	inputs := make([]fl.WeightedParameters, len(received))
	for i, s := range received {
		inputs[i] = fl.WeightedParameters{
			Parameters: s.Update.Parameters,
			Weight:     float64(s.Update.NumSamples),
		}
	}

	aggregated, err := c.aggregator.Aggregate(inputs)

	c.mu.Lock()
	if err != nil {
		err = fmt.Errorf("round %d: failed to aggregate: %w", number, err)
		report := c.abortLocked(err)
		c.mu.Unlock()
		c.roundFinished(ctx, report)

		return err
	}
	c.aggregate = aggregated
	err = c.sm.Transition(Checkpointing)
	c.mu.Unlock()

	return err
}

// Checkpoint persists the aggregate of the current round. On success the
// aggregate becomes the global parameter set. A write failure aborts the
// run since later rounds would have no committed basis.
func (c *Coordinator) Checkpoint(ctx context.Context) (checkpoint.Checkpoint, error) {
	c.mu.Lock()
	if phase := c.sm.Phase(); phase != Checkpointing || c.aggregate == nil {
		c.mu.Unlock()

		return checkpoint.Checkpoint{}, fmt.Errorf("%w: checkpoint in %s", ErrInvalidStateTransition, phase)
	}
	ckpt := checkpoint.Checkpoint{
		Round:      c.round.Number,
		Parameters: c.aggregate,
		WrittenAt:  time.Now().UTC(),
	}
	c.mu.Unlock()

	err := c.store.Save(ctx, ckpt)

	c.mu.Lock()
	if err != nil {
		err = fmt.Errorf("round %d: failed to write checkpoint: %w", ckpt.Round, err)
		report := c.abortLocked(err)
		c.mu.Unlock()
		c.roundFinished(ctx, report)

		return checkpoint.Checkpoint{}, err
	}
	c.global = ckpt.Parameters
	c.aggregate = nil
	c.lastCheckpoint = ckpt.Round
	report := c.reportLocked(RoundCompleted, nil)
	c.globalMetrics = report.GlobalMetrics
	c.reports = append(c.reports, report)
	c.round = nil
	c.mu.Unlock()

	c.roundFinished(ctx, report)
	ckpt.Parameters = ckpt.Parameters.Clone()

	return ckpt, nil
}

// Register adds a client session or refreshes an existing one. The ack names
// the first round the client can take part in.
func (c *Coordinator) Register(ctx context.Context, id, name string, numSamples int) (RegisterAck, error) {
	if id == "" {
		return RegisterAck{}, ErrMissingClientID
	}

	now := time.Now()
	client, err := c.registry.GetClient(ctx, id)
	switch {
	case err == nil:
		if name != "" {
			client.Name = name
		}
		client.NumSamples = numSamples
		client.markSeen(now)
		err = c.registry.UpdateClient(ctx, client)
	case errors.Is(err, pkgerrors.ErrNotFound):
		client = Client{
			ID:           id,
			Name:         name,
			NumSamples:   numSamples,
			RegisteredAt: now,
		}
		client.markSeen(now)
		err = c.registry.CreateClient(ctx, client)
	}
	if err != nil {
		return RegisterAck{}, fmt.Errorf("failed to register client %s: %w", id, err)
	}

	c.mu.Lock()
	ack := RegisterAck{
		ClientID:  id,
		RunID:     c.runID,
		NextRound: c.lastRound + 1,
	}
	c.mu.Unlock()

	c.emit(ctx, "client registered", func(ctx context.Context) error {
		return c.events.EmitClientRegistered(ctx, client)
	})

	return ack, nil
}

// AckDispatch records that a participant received its round. Repeated acks
// are ignored.
func (c *Coordinator) AckDispatch(_ context.Context, id string, round uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.round
	if r == nil || r.Number != round {
		return fmt.Errorf("%w: ack for round %d", ErrStaleSubmission, round)
	}
	if !r.participant(id) {
		return ErrNotParticipant
	}
	if _, ok := r.Acked[id]; !ok {
		r.Acked[id] = time.Now()
	}

	return nil
}

// Submit records the result of a participant for round. Results for another
// round, results arriving after the collection phase closed and repeated
// results are rejected and not counted.
func (c *Coordinator) Submit(_ context.Context, id string, round uint64, res Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.round
	if r == nil || r.Number != round {
		return fmt.Errorf("%w: result for round %d", ErrStaleSubmission, round)
	}
	if phase := c.sm.Phase(); phase != DispatchingRound && phase != CollectingResults {
		return fmt.Errorf("%w: round %d is %s", ErrStaleSubmission, round, phase)
	}
	if !r.participant(id) {
		return ErrNotParticipant
	}
	if _, ok := r.Pending[id]; !ok {
		return ErrDuplicateSubmission
	}

	switch {
	case res.Error != "":
		c.recordFailure(round, id, FailureTrainingError, errors.New(res.Error))
	case res.Update == nil:
		c.recordFailure(round, id, FailureTrainingError, errMissingUpdate)
	case !res.Update.Parameters.SameShapes(r.Dispatched):
		c.logger.Error("rejected update with mismatched parameter shapes",
			slog.String("client_id", id),
			slog.Uint64("round", round),
			slog.String("error", fl.ErrParameterShapeMismatch.Error()),
		)
		c.recordFailure(round, id, FailureTrainingError, fl.ErrParameterShapeMismatch)
	default:
		delete(r.Pending, id)
		r.Received = append(r.Received, Submission{
			ClientID:   id,
			Update:     *res.Update,
			ReceivedAt: time.Now(),
		})
		c.signal()
	}

	return nil
}

// Disconnect marks a client dead. If it still owed a result for the active
// round it is recorded as a disconnect failure of that round only.
func (c *Coordinator) Disconnect(ctx context.Context, id string) error {
	client, err := c.registry.GetClient(ctx, id)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return ErrUnknownClient
		}

		return err
	}
	client.Alive = false
	if err := c.registry.UpdateClient(ctx, client); err != nil {
		return fmt.Errorf("failed to update client %s: %w", id, err)
	}

	c.mu.Lock()
	if c.round != nil {
		c.recordFailure(c.round.Number, id, FailureDisconnect, errClientDisconnected)
	}
	c.mu.Unlock()

	c.emit(ctx, "client disconnected", func(ctx context.Context) error {
		return c.events.EmitClientDisconnected(ctx, id)
	})

	return nil
}

func (c *Coordinator) Heartbeat(ctx context.Context, id string) error {
	client, err := c.registry.GetClient(ctx, id)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return ErrUnknownClient
		}

		return err
	}
	client.markSeen(time.Now())

	return c.registry.UpdateClient(ctx, client)
}

// ExpireClients disconnects every alive client not seen within timeout and
// returns their ids.
func (c *Coordinator) ExpireClients(ctx context.Context, timeout time.Duration) ([]string, error) {
	clients, _, err := c.registry.ListClients(ctx, 0, maxClients)
	if err != nil {
		return nil, err
	}

	var expired []string
	for _, client := range clients {
		if !client.Alive || time.Since(client.LastSeen) <= timeout {
			continue
		}
		if err := c.Disconnect(ctx, client.ID); err != nil {
			return expired, err
		}
		expired = append(expired, client.ID)
	}

	return expired, nil
}

func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sm.Phase()
}

// Global returns a copy of the current global parameter set.
func (c *Coordinator) Global() fl.ParameterSet {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.global.Clone()
}

func (c *Coordinator) Reports() []RoundReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.reports)
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		RunID:          c.runID,
		Phase:          c.sm.Phase(),
		LastCheckpoint: c.lastCheckpoint,
		CompletedRound: len(c.reports),
	}
	if r := c.round; r != nil {
		s.Round = r.Number
		s.Deadline = r.Deadline
		s.Participants = slices.Clone(r.Participants)
		s.Pending = slices.Sorted(maps.Keys(r.Pending))
		s.Acked = slices.Sorted(maps.Keys(r.Acked))
		for _, sub := range r.Received {
			s.Received = append(s.Received, sub.ClientID)
		}
		slices.Sort(s.Received)
		s.Failed = sortedFailures(r.Failed)
	}

	return s
}

func (c *Coordinator) selectParticipants(ctx context.Context, target int) ([]string, error) {
	clients, _, err := c.registry.ListClients(ctx, 0, maxClients)
	if err != nil {
		return nil, err
	}

	selected, err := c.selector.Select(ctx, clients, target)
	switch {
	case errors.Is(err, ErrNoClients), errors.Is(err, ErrDeadClients):
		return nil, nil
	case err != nil:
		return nil, err
	}

	ids := make([]string, 0, len(selected))
	for _, client := range selected {
		ids = append(ids, client.ID)
	}
	slices.Sort(ids)

	return ids, nil
}

// recordFailure must be called with c.mu held. It only applies to clients
// that still owe a result for round.
func (c *Coordinator) recordFailure(round uint64, id string, reason FailureReason, err error) {
	r := c.round
	if r == nil || r.Number != round {
		return
	}
	if _, ok := r.Pending[id]; !ok {
		return
	}
	delete(r.Pending, id)
	r.Failed[id] = ClientFailure{
		ClientID: id,
		Reason:   reason,
		Error:    err.Error(),
	}
	c.signal()
}

func (c *Coordinator) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Coordinator) abortLocked(cause error) RoundReport {
	if err := c.sm.Transition(Aborted); err != nil {
		c.logger.Error("failed to abort round", slog.Any("error", err))
	}
	report := c.reportLocked(RoundAborted, cause)
	c.reports = append(c.reports, report)
	c.round = nil
	c.aggregate = nil

	return report
}

func (c *Coordinator) reportLocked(status RoundStatus, cause error) RoundReport {
	r := c.round
	report := RoundReport{
		RunID:        c.runID,
		Round:        r.Number,
		Status:       status,
		Participants: slices.Clone(r.Participants),
		Clients:      make(map[string]ClientResult, len(r.Received)),
		Failures:     sortedFailures(r.Failed),
		StartedAt:    r.StartedAt,
		FinishedAt:   time.Now(),
	}
	updates := make([]fl.ClientUpdate, 0, len(r.Received))
	for _, s := range r.Received {
		report.Clients[s.ClientID] = ClientResult{
			NumSamples: s.Update.NumSamples,
			Metrics:    s.Update.Metrics,
		}
		updates = append(updates, s.Update)
	}
	if len(updates) > 0 {
		report.GlobalMetrics = fl.WeightedMetrics(updates)
	}
	if cause != nil {
		report.Error = cause.Error()
	}

	return report
}

func (c *Coordinator) resultLocked(err error) RunResult {
	res := RunResult{
		RunID:          c.runID,
		Phase:          c.sm.Phase(),
		LastCheckpoint: c.lastCheckpoint,
		Reports:        slices.Clone(c.reports),
		GlobalMetrics:  maps.Clone(c.globalMetrics),
		Final:          c.global.Clone(),
	}
	if err != nil {
		res.Error = err.Error()
	}

	return res
}

func (c *Coordinator) roundFinished(ctx context.Context, report RoundReport) {
	args := []any{
		slog.String("run_id", report.RunID),
		slog.Uint64("round", report.Round),
		slog.String("status", string(report.Status)),
		slog.Int("received", len(report.Clients)),
		slog.Int("failed", len(report.Failures)),
	}
	if report.Status == RoundAborted {
		c.logger.Warn("round aborted", append(args, slog.String("error", report.Error))...)
	} else {
		c.logger.Info("round completed", append(args, slog.Any("global_metrics", report.GlobalMetrics))...)
	}

	c.emit(ctx, "round finished", func(ctx context.Context) error {
		return c.events.EmitRoundFinished(ctx, report)
	})
}

func (c *Coordinator) emit(ctx context.Context, event string, fn func(context.Context) error) {
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("failed to emit event", slog.String("event", event), slog.Any("error", err))
	}
}

func sortedFailures(failed map[string]ClientFailure) []ClientFailure {
	out := make([]ClientFailure, 0, len(failed))
	for _, id := range slices.Sorted(maps.Keys(failed)) {
		out = append(out, failed[id])
	}

	return out
}

type noopEmitter struct{}

func (noopEmitter) EmitClientRegistered(context.Context, Client) error   { return nil }
func (noopEmitter) EmitClientDisconnected(context.Context, string) error { return nil }
func (noopEmitter) EmitRoundStarted(context.Context, string, uint64, []string) error {
	return nil
}
func (noopEmitter) EmitRoundFinished(context.Context, RoundReport) error { return nil }
func (noopEmitter) EmitRunFinished(context.Context, RunResult) error     { return nil }
