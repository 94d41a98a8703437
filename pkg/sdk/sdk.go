package sdk

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/absmach/fedids/pkg/checkpoint"
	"github.com/absmach/fedids/pkg/evaluator"
	"github.com/absmach/fedids/pkg/fl"
	"github.com/absmach/fedids/pkg/orchestration"
)

const (
	CTJSON string = "application/json"

	runsEndpoint        = "/runs"
	statusEndpoint      = "/status"
	clientsEndpoint     = "/clients"
	roundsEndpoint      = "/rounds"
	checkpointsEndpoint = "/checkpoints"
)

var ErrUnexpectedStatus = errors.New("unexpected response code")

// Run starts a training run. Timeout is a duration string such as "5m".
type Run struct {
	ID            string `json:"id,omitempty"`
	StartRound    uint64 `json:"start_round,omitempty"`
	Rounds        uint64 `json:"rounds"`
	TargetClients int    `json:"target_clients,omitempty"`
	MinFitClients int    `json:"min_fit_clients"`
	Timeout       string `json:"timeout"`
	Epochs        int    `json:"epochs"`
	BatchSize     int    `json:"batch_size"`
}

type RunSummary struct {
	orchestration.RunResult
	Test *evaluator.Report `json:"test,omitempty"`
}

type ClientEvaluation struct {
	NumSamples int        `json:"num_samples"`
	Loss       float64    `json:"loss"`
	Metrics    fl.Metrics `json:"metrics,omitempty"`
}

type Evaluation struct {
	Round      uint64                      `json:"round"`
	NumSamples int                         `json:"num_samples"`
	Loss       float64                     `json:"loss"`
	Metrics    fl.Metrics                  `json:"metrics,omitempty"`
	Clients    map[string]ClientEvaluation `json:"clients"`
	Failures   map[string]string           `json:"failures,omitempty"`
}

type SDK interface {
	// StartRun starts a run on the coordinator and returns its resolved
	// configuration.
	//
	// example:
	//  cfg, _ := sdk.StartRun(sdk.Run{Rounds: 10, MinFitClients: 2, Timeout: "5m", Epochs: 1, BatchSize: 32})
	//  fmt.Println(cfg.ID)
	StartRun(run Run) (orchestration.RunConfig, error)

	// StopRun aborts the active run.
	StopRun() error

	// LastRun returns the outcome of the last finished run.
	LastRun() (RunSummary, error)

	// Status returns the phase and the progress of the active round.
	Status() (orchestration.Status, error)

	// GetClient gets a registered client by id.
	//
	// example:
	//  c, _ := sdk.GetClient("client-1")
	//  fmt.Println(c.Alive)
	GetClient(id string) (orchestration.Client, error)

	// ListClients lists registered clients.
	ListClients(offset, limit uint64) (orchestration.ClientPage, error)

	// ListRounds lists round reports of runID, or of every run when runID is
	// empty.
	ListRounds(runID string, offset, limit uint64) (orchestration.RoundReportPage, error)

	// ListCheckpoints lists the written checkpoints in round order.
	ListCheckpoints() ([]checkpoint.Info, error)

	// GetCheckpoint gets the checkpoint of round, or the latest when round
	// is 0.
	GetCheckpoint(round uint64) (checkpoint.Checkpoint, error)

	// EvaluateCheckpoint runs a federated evaluation of a checkpoint on the
	// alive clients.
	EvaluateCheckpoint(round uint64, cfg fl.FitConfig) (Evaluation, error)
}

type fedSDK struct {
	coordinatorURL string
	client         *http.Client
}

type Config struct {
	CoordinatorURL  string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &fedSDK{
		coordinatorURL: cfg.CoordinatorURL,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

func (sdk *fedSDK) StartRun(run Run) (orchestration.RunConfig, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return orchestration.RunConfig{}, err
	}

	var cfg orchestration.RunConfig
	if err := sdk.do(http.MethodPost, sdk.coordinatorURL+runsEndpoint, data, http.StatusAccepted, &cfg); err != nil {
		return orchestration.RunConfig{}, err
	}

	return cfg, nil
}

func (sdk *fedSDK) StopRun() error {
	return sdk.do(http.MethodPost, sdk.coordinatorURL+runsEndpoint+"/stop", nil, http.StatusNoContent, nil)
}

func (sdk *fedSDK) LastRun() (RunSummary, error) {
	var summary RunSummary
	if err := sdk.do(http.MethodGet, sdk.coordinatorURL+runsEndpoint+"/last", nil, http.StatusOK, &summary); err != nil {
		return RunSummary{}, err
	}

	return summary, nil
}

func (sdk *fedSDK) Status() (orchestration.Status, error) {
	var status orchestration.Status
	if err := sdk.do(http.MethodGet, sdk.coordinatorURL+statusEndpoint, nil, http.StatusOK, &status); err != nil {
		return orchestration.Status{}, err
	}

	return status, nil
}

func (sdk *fedSDK) GetClient(id string) (orchestration.Client, error) {
	var c orchestration.Client
	if err := sdk.do(http.MethodGet, sdk.coordinatorURL+clientsEndpoint+"/"+url.PathEscape(id), nil, http.StatusOK, &c); err != nil {
		return orchestration.Client{}, err
	}

	return c, nil
}

func (sdk *fedSDK) ListClients(offset, limit uint64) (orchestration.ClientPage, error) {
	reqURL := sdk.coordinatorURL + clientsEndpoint + pageQuery("", offset, limit)

	var page orchestration.ClientPage
	if err := sdk.do(http.MethodGet, reqURL, nil, http.StatusOK, &page); err != nil {
		return orchestration.ClientPage{}, err
	}

	return page, nil
}

func (sdk *fedSDK) ListRounds(runID string, offset, limit uint64) (orchestration.RoundReportPage, error) {
	reqURL := sdk.coordinatorURL + roundsEndpoint + pageQuery(runID, offset, limit)

	var page orchestration.RoundReportPage
	if err := sdk.do(http.MethodGet, reqURL, nil, http.StatusOK, &page); err != nil {
		return orchestration.RoundReportPage{}, err
	}

	return page, nil
}

func (sdk *fedSDK) ListCheckpoints() ([]checkpoint.Info, error) {
	var res struct {
		Checkpoints []checkpoint.Info `json:"checkpoints"`
	}
	if err := sdk.do(http.MethodGet, sdk.coordinatorURL+checkpointsEndpoint, nil, http.StatusOK, &res); err != nil {
		return nil, err
	}

	return res.Checkpoints, nil
}

func (sdk *fedSDK) GetCheckpoint(round uint64) (checkpoint.Checkpoint, error) {
	var ckpt checkpoint.Checkpoint
	if err := sdk.do(http.MethodGet, sdk.checkpointURL(round), nil, http.StatusOK, &ckpt); err != nil {
		return checkpoint.Checkpoint{}, err
	}

	return ckpt, nil
}

func (sdk *fedSDK) EvaluateCheckpoint(round uint64, cfg fl.FitConfig) (Evaluation, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return Evaluation{}, err
	}

	var eval Evaluation
	if err := sdk.do(http.MethodPost, sdk.checkpointURL(round)+"/evaluate", data, http.StatusOK, &eval); err != nil {
		return Evaluation{}, err
	}

	return eval, nil
}

func (sdk *fedSDK) checkpointURL(round uint64) string {
	ref := "latest"
	if round > 0 {
		ref = strconv.FormatUint(round, 10)
	}

	return sdk.coordinatorURL + checkpointsEndpoint + "/" + ref
}

func pageQuery(runID string, offset, limit uint64) string {
	q := url.Values{}
	if runID != "" {
		q.Set("run_id", runID)
	}
	if offset > 0 {
		q.Set("offset", strconv.FormatUint(offset, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.FormatUint(limit, 10))
	}
	if len(q) == 0 {
		return ""
	}

	return "?" + q.Encode()
}

func (sdk *fedSDK) do(method, reqURL string, data []byte, expectedRespCode int, out any) error {
	body, err := sdk.processRequest(method, reqURL, data, expectedRespCode)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	return json.Unmarshal(body, out)
}

func (sdk *fedSDK) processRequest(method, reqURL string, data []byte, expectedRespCode int) ([]byte, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	req.Header.Add("Content-Type", CTJSON)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode != expectedRespCode {
		var res struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &res) == nil && res.Error != "" {
			return []byte{}, fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, res.Error)
		}

		return []byte{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	return body, nil
}
