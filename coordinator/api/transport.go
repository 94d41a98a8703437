package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/absmach/fedids/coordinator"
	"github.com/absmach/fedids/pkg/api"
	pkgerrors "github.com/absmach/fedids/pkg/errors"
	"github.com/absmach/fedids/pkg/orchestration"
	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	latestRound = "latest"
	roundKey    = "round"
)

var errInvalidRound = errors.New("round must be a positive number or latest")

func MakeHandler(svc coordinator.Service, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(apiutil.LoggingErrorEncoder(logger, encodeError)),
	}

	mux.Route("/runs", func(r chi.Router) {
		r.Post("/", otelhttp.NewHandler(kithttp.NewServer(
			startRunEndpoint(svc),
			decodeStartRunReq,
			api.EncodeResponse,
			opts...,
		), "start-run").ServeHTTP)
		r.Post("/stop", otelhttp.NewHandler(kithttp.NewServer(
			stopRunEndpoint(svc),
			decodeEmptyReq,
			api.EncodeResponse,
			opts...,
		), "stop-run").ServeHTTP)
		r.Get("/last", otelhttp.NewHandler(kithttp.NewServer(
			lastRunEndpoint(svc),
			decodeEmptyReq,
			api.EncodeResponse,
			opts...,
		), "last-run").ServeHTTP)
	})

	mux.Get("/status", otelhttp.NewHandler(kithttp.NewServer(
		statusEndpoint(svc),
		decodeEmptyReq,
		api.EncodeResponse,
		opts...,
	), "status").ServeHTTP)

	mux.Route("/clients", func(r chi.Router) {
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			listClientsEndpoint(svc),
			decodeListEntityReq,
			api.EncodeResponse,
			opts...,
		), "list-clients").ServeHTTP)
		r.Get("/{clientID}", otelhttp.NewHandler(kithttp.NewServer(
			getClientEndpoint(svc),
			decodeEntityReq("clientID"),
			api.EncodeResponse,
			opts...,
		), "get-client").ServeHTTP)
	})

	mux.Get("/rounds", otelhttp.NewHandler(kithttp.NewServer(
		listRoundsEndpoint(svc),
		decodeListRoundsReq,
		api.EncodeResponse,
		opts...,
	), "list-rounds").ServeHTTP)

	mux.Route("/checkpoints", func(r chi.Router) {
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			listCheckpointsEndpoint(svc),
			decodeEmptyReq,
			api.EncodeResponse,
			opts...,
		), "list-checkpoints").ServeHTTP)
		r.Route("/{round}", func(r chi.Router) {
			r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
				getCheckpointEndpoint(svc),
				decodeCheckpointReq,
				api.EncodeResponse,
				opts...,
			), "get-checkpoint").ServeHTTP)
			r.Post("/evaluate", otelhttp.NewHandler(kithttp.NewServer(
				evaluateCheckpointEndpoint(svc),
				decodeEvaluateReq,
				api.EncodeResponse,
				opts...,
			), "evaluate-checkpoint").ServeHTTP)
		})
	})

	mux.Get("/health", supermq.Health("coordinator", instanceID))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func encodeError(ctx context.Context, err error, w http.ResponseWriter) {
	switch {
	case errors.Is(err, orchestration.ErrRunInProgress),
		errors.Is(err, coordinator.ErrNoActiveRun):
		err = errors.Join(err, pkgerrors.ErrEntityExists)
	case errors.Is(err, coordinator.ErrNoRun):
		err = errors.Join(err, pkgerrors.ErrNotFound)
	}
	api.EncodeError(ctx, err, w)
}

func decodeEmptyReq(_ context.Context, _ *http.Request) (any, error) {
	return emptyReq{}, nil
}

func decodeEntityReq(key string) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (any, error) {
		return entityReq{
			id: chi.URLParam(r, key),
		}, nil
	}
}

func decodeStartRunReq(_ context.Context, r *http.Request) (any, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}

	var req startRunReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(err, apiutil.ErrValidation)
	}

	return req, nil
}

func decodeListEntityReq(_ context.Context, r *http.Request) (any, error) {
	o, err := apiutil.ReadNumQuery[uint64](r, api.OffsetKey, api.DefOffset)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}
	l, err := apiutil.ReadNumQuery[uint64](r, api.LimitKey, api.DefLimit)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	return listEntityReq{
		offset: o,
		limit:  l,
	}, nil
}

func decodeListRoundsReq(_ context.Context, r *http.Request) (any, error) {
	o, err := apiutil.ReadNumQuery[uint64](r, api.OffsetKey, api.DefOffset)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}
	l, err := apiutil.ReadNumQuery[uint64](r, api.LimitKey, api.DefLimit)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	return listRoundsReq{
		runID:  r.URL.Query().Get(api.RunKey),
		offset: o,
		limit:  l,
	}, nil
}

func parseRound(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, roundKey)
	if raw == latestRound {
		return 0, nil
	}

	round, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || round == 0 {
		return 0, errors.Join(apiutil.ErrValidation, errInvalidRound)
	}

	return round, nil
}

func decodeCheckpointReq(_ context.Context, r *http.Request) (any, error) {
	round, err := parseRound(r)
	if err != nil {
		return nil, err
	}

	return checkpointReq{round: round}, nil
}

func decodeEvaluateReq(_ context.Context, r *http.Request) (any, error) {
	round, err := parseRound(r)
	if err != nil {
		return nil, err
	}

	req := evaluateReq{round: round}
	if r.ContentLength == 0 {
		return req, nil
	}
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Join(err, apiutil.ErrValidation)
	}

	return req, nil
}
