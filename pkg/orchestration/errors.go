package orchestration

import "errors"

var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrQuorumNotMet           = errors.New("quorum not met")
	ErrRoundNotActive         = errors.New("no round is collecting results")
	ErrStaleSubmission        = errors.New("submission does not belong to the active round")
	ErrDuplicateSubmission    = errors.New("client already responded in this round")
	ErrUnknownClient          = errors.New("client is not registered")
	ErrNotParticipant         = errors.New("client is not a participant of this round")
	ErrNoClients              = errors.New("no clients were provided")
	ErrDeadClients            = errors.New("all clients are dead")
	ErrRunInProgress          = errors.New("a run is already in progress")
	ErrInvalidRound           = errors.New("round number must be greater than the last round")
	ErrNoInitialParameters    = errors.New("initial parameters are empty")
	ErrInvalidRounds          = errors.New("number of rounds must be positive")
	ErrInvalidMinFitClients   = errors.New("min fit clients must be positive")
	ErrInvalidTargetClients   = errors.New("target clients must be zero or at least min fit clients")
	ErrInvalidTimeout         = errors.New("round timeout must be positive")
	ErrMissingClientID        = errors.New("missing client id")
	ErrUnknownSelector        = errors.New("unknown client selector")
)
