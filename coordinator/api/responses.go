package api

import (
	"net/http"

	"github.com/absmach/fedids/coordinator"
	"github.com/absmach/fedids/pkg/checkpoint"
	"github.com/absmach/fedids/pkg/orchestration"
	"github.com/absmach/supermq"
)

var (
	_ supermq.Response = (*runResponse)(nil)
	_ supermq.Response = (*runSummaryResponse)(nil)
	_ supermq.Response = (*statusResponse)(nil)
	_ supermq.Response = (*clientResponse)(nil)
	_ supermq.Response = (*listClientsResponse)(nil)
	_ supermq.Response = (*listRoundsResponse)(nil)
	_ supermq.Response = (*listCheckpointsResponse)(nil)
	_ supermq.Response = (*checkpointResponse)(nil)
	_ supermq.Response = (*evaluationResponse)(nil)
)

type runResponse struct {
	orchestration.RunConfig
	started bool
	stopped bool
}

func (r runResponse) Code() int {
	switch {
	case r.started:
		return http.StatusAccepted
	case r.stopped:
		return http.StatusNoContent
	default:
		return http.StatusOK
	}
}

func (r runResponse) Headers() map[string]string {
	if r.started {
		return map[string]string{
			"Location": "/runs/last",
		}
	}

	return map[string]string{}
}

func (r runResponse) Empty() bool {
	return r.stopped
}

type runSummaryResponse struct {
	coordinator.RunSummary
}

func (r runSummaryResponse) Code() int {
	return http.StatusOK
}

func (r runSummaryResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r runSummaryResponse) Empty() bool {
	return false
}

type statusResponse struct {
	orchestration.Status
}

func (s statusResponse) Code() int {
	return http.StatusOK
}

func (s statusResponse) Headers() map[string]string {
	return map[string]string{}
}

func (s statusResponse) Empty() bool {
	return false
}

type clientResponse struct {
	orchestration.Client
}

func (c clientResponse) Code() int {
	return http.StatusOK
}

func (c clientResponse) Headers() map[string]string {
	return map[string]string{}
}

func (c clientResponse) Empty() bool {
	return false
}

type listClientsResponse struct {
	orchestration.ClientPage
}

func (l listClientsResponse) Code() int {
	return http.StatusOK
}

func (l listClientsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listClientsResponse) Empty() bool {
	return false
}

type listRoundsResponse struct {
	orchestration.RoundReportPage
}

func (l listRoundsResponse) Code() int {
	return http.StatusOK
}

func (l listRoundsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listRoundsResponse) Empty() bool {
	return false
}

type listCheckpointsResponse struct {
	Checkpoints []checkpoint.Info `json:"checkpoints"`
}

func (l listCheckpointsResponse) Code() int {
	return http.StatusOK
}

func (l listCheckpointsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listCheckpointsResponse) Empty() bool {
	return false
}

type checkpointResponse struct {
	checkpoint.Checkpoint
}

func (c checkpointResponse) Code() int {
	return http.StatusOK
}

func (c checkpointResponse) Headers() map[string]string {
	return map[string]string{}
}

func (c checkpointResponse) Empty() bool {
	return false
}

type evaluationResponse struct {
	coordinator.Evaluation
}

func (e evaluationResponse) Code() int {
	return http.StatusOK
}

func (e evaluationResponse) Headers() map[string]string {
	return map[string]string{}
}

func (e evaluationResponse) Empty() bool {
	return false
}
