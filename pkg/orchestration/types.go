package orchestration

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/absmach/fedids/pkg/fl"
)

const (
	aliveHistoryLimit = 10

	DefaultAliveTimeout = 30 * time.Second
)

type Phase uint8

const (
	Idle Phase = iota
	DispatchingRound
	CollectingResults
	Aggregating
	Checkpointing
	Completed
	Aborted
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "Idle"
	case DispatchingRound:
		return "DispatchingRound"
	case CollectingResults:
		return "CollectingResults"
	case Aggregating:
		return "Aggregating"
	case Checkpointing:
		return "Checkpointing"
	case Completed:
		return "Completed"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for ph := Idle; ph <= Aborted; ph++ {
		if ph.String() == s {
			*p = ph

			return nil
		}
	}

	return fmt.Errorf("unknown phase %q", s)
}

// Running reports whether a run is between its first dispatch and a terminal
// phase.
func (p Phase) Running() bool {
	return p != Idle && p != Completed && p != Aborted
}

// Client is a registered client session. Registrations live only as long as
// the coordinator process.
type Client struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	NumSamples   int         `json:"num_samples,omitempty"`
	RegisteredAt time.Time   `json:"registered_at"`
	LastSeen     time.Time   `json:"last_seen"`
	Alive        bool        `json:"alive"`
	AliveHistory []time.Time `json:"alive_history,omitempty"`
}

func (c *Client) markSeen(now time.Time) {
	c.Alive = true
	c.LastSeen = now
	c.AliveHistory = append(c.AliveHistory, now)
	if len(c.AliveHistory) > aliveHistoryLimit {
		c.AliveHistory = c.AliveHistory[len(c.AliveHistory)-aliveHistoryLimit:]
	}
}

type ClientPage struct {
	Offset  uint64   `json:"offset"`
	Limit   uint64   `json:"limit"`
	Total   uint64   `json:"total"`
	Clients []Client `json:"clients"`
}

type RoundConfig struct {
	// TargetClients is how many responses end the collection phase early.
	// Zero waits for every participant.
	TargetClients int           `json:"target_clients" toml:"target_clients"`
	MinFitClients int           `json:"min_fit_clients" toml:"min_fit_clients"`
	Timeout       time.Duration `json:"timeout" toml:"timeout"`
	Fit           fl.FitConfig  `json:"fit" toml:"fit"`
}

func (c RoundConfig) Validate() error {
	if c.MinFitClients <= 0 {
		return ErrInvalidMinFitClients
	}
	if c.TargetClients < 0 || (c.TargetClients > 0 && c.TargetClients < c.MinFitClients) {
		return ErrInvalidTargetClients
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	return c.Fit.Validate()
}

type RunConfig struct {
	ID string `json:"id,omitempty"`
	// StartRound is the number of the first round. Zero means 1.
	StartRound uint64      `json:"start_round,omitempty"`
	Rounds     uint64      `json:"rounds"`
	Round      RoundConfig `json:"round"`
}

func (c RunConfig) Validate() error {
	if c.Rounds == 0 {
		return ErrInvalidRounds
	}

	return c.Round.Validate()
}

type FailureReason string

const (
	FailureTimeout       FailureReason = "timeout"
	FailureDisconnect    FailureReason = "disconnect"
	FailureTrainingError FailureReason = "training_error"
)

type ClientFailure struct {
	ClientID string        `json:"client_id"`
	Reason   FailureReason `json:"reason"`
	Error    string        `json:"error,omitempty"`
}

type Submission struct {
	ClientID   string          `json:"client_id"`
	Update     fl.ClientUpdate `json:"update"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Result is what a client reports for a dispatched round: an update or the
// error that prevented one.
type Result struct {
	Update *fl.ClientUpdate
	Error  string
}

// RoundState is owned by the coordinator from StartRound until the round is
// checkpointed or aborted.
type RoundState struct {
	Number       uint64
	Config       RoundConfig
	Dispatched   fl.ParameterSet
	Participants []string
	Pending      map[string]struct{}
	Acked        map[string]time.Time
	Received     []Submission
	Failed       map[string]ClientFailure
	StartedAt    time.Time
	Deadline     time.Time
}

func (r *RoundState) responded() int {
	return len(r.Received) + len(r.Failed)
}

// waitTarget is the number of responses that ends collection before the
// deadline.
func (r *RoundState) waitTarget() int {
	if r.Config.TargetClients > 0 {
		return min(r.Config.TargetClients, len(r.Participants))
	}

	return len(r.Participants)
}

func (r *RoundState) participant(id string) bool {
	for _, p := range r.Participants {
		if p == id {
			return true
		}
	}

	return false
}

type RoundStatus string

const (
	RoundCompleted RoundStatus = "completed"
	RoundAborted   RoundStatus = "aborted"
)

type ClientResult struct {
	NumSamples int        `json:"num_samples"`
	Metrics    fl.Metrics `json:"metrics,omitempty"`
}

// RoundReport is the metrics record of one finished round.
type RoundReport struct {
	RunID         string                  `json:"run_id"`
	Round         uint64                  `json:"round"`
	Status        RoundStatus             `json:"status"`
	Participants  []string                `json:"participants"`
	Clients       map[string]ClientResult `json:"clients"`
	Failures      []ClientFailure         `json:"failures,omitempty"`
	GlobalMetrics fl.Metrics              `json:"global_metrics,omitempty"`
	Error         string                  `json:"error,omitempty"`
	StartedAt     time.Time               `json:"started_at"`
	FinishedAt    time.Time               `json:"finished_at"`
}

type RoundReportPage struct {
	Offset  uint64        `json:"offset"`
	Limit   uint64        `json:"limit"`
	Total   uint64        `json:"total"`
	Reports []RoundReport `json:"reports"`
}

type RunResult struct {
	RunID          string        `json:"run_id"`
	Phase          Phase         `json:"phase"`
	LastCheckpoint uint64        `json:"last_checkpoint,omitempty"`
	Reports        []RoundReport `json:"reports"`
	GlobalMetrics  fl.Metrics    `json:"global_metrics,omitempty"`
	Error          string        `json:"error,omitempty"`
	// Final is the global parameter set after the last committed round.
	Final fl.ParameterSet `json:"-"`
}

// RegisterAck tells a client which round it can join first.
type RegisterAck struct {
	ClientID  string `json:"client_id"`
	RunID     string `json:"run_id,omitempty"`
	NextRound uint64 `json:"next_round"`
}

// Status is a point in time view of the coordinator.
type Status struct {
	RunID          string          `json:"run_id,omitempty"`
	Phase          Phase           `json:"phase"`
	Round          uint64          `json:"round,omitempty"`
	Participants   []string        `json:"participants,omitempty"`
	Pending        []string        `json:"pending,omitempty"`
	Acked          []string        `json:"acked,omitempty"`
	Received       []string        `json:"received,omitempty"`
	Failed         []ClientFailure `json:"failed,omitempty"`
	Deadline       time.Time       `json:"deadline,omitzero"`
	LastCheckpoint uint64          `json:"last_checkpoint,omitempty"`
	CompletedRound int             `json:"completed_rounds"`
}
