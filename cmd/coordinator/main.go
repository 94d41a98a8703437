package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/absmach/fedids"
	"github.com/absmach/fedids/coordinator"
	"github.com/absmach/fedids/coordinator/api"
	"github.com/absmach/fedids/coordinator/middleware"
	"github.com/absmach/fedids/pkg/checkpoint/backend"
	"github.com/absmach/fedids/pkg/crypto"
	"github.com/absmach/fedids/pkg/mqtt"
	"github.com/absmach/fedids/pkg/orchestration"
	"github.com/absmach/fedids/pkg/orchestration/events"
	"github.com/absmach/fedids/pkg/orchestration/executor"
	"github.com/absmach/fedids/pkg/orchestration/store"
	"github.com/absmach/fedids/pkg/storage"
	"github.com/absmach/fedids/pkg/storage/sqlite"
	"github.com/absmach/supermq/pkg/jaeger"
	"github.com/absmach/supermq/pkg/prometheus"
	"github.com/absmach/supermq/pkg/server"
	httpserver "github.com/absmach/supermq/pkg/server/http"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const (
	svcName       = "coordinator"
	defHTTPPort   = "7070"
	envPrefixHTTP = "FEDIDS_COORDINATOR_HTTP_"
	envPrefixRun  = "FEDIDS_COORDINATOR_RUN_"
	pathEnv       = ".env"
)

type envConfig struct {
	LogLevel            string        `env:"FEDIDS_COORDINATOR_LOG_LEVEL"             envDefault:"info"`
	InstanceID          string        `env:"FEDIDS_COORDINATOR_INSTANCE_ID"`
	ConfigFile          string        `env:"FEDIDS_COORDINATOR_CONFIG"                envDefault:"config.toml"`
	MQTTAddress         string        `env:"FEDIDS_COORDINATOR_MQTT_ADDRESS"          envDefault:"tcp://localhost:1883"`
	MQTTQoS             uint8         `env:"FEDIDS_COORDINATOR_MQTT_QOS"              envDefault:"2"`
	MQTTTimeout         time.Duration `env:"FEDIDS_COORDINATOR_MQTT_TIMEOUT"          envDefault:"30s"`
	MQTTCACert          string        `env:"FEDIDS_COORDINATOR_MQTT_CA_CERT"`
	MQTTClientCert      string        `env:"FEDIDS_COORDINATOR_MQTT_CLIENT_CERT"`
	MQTTClientKey       string        `env:"FEDIDS_COORDINATOR_MQTT_CLIENT_KEY"`
	DomainID            string        `env:"FEDIDS_COORDINATOR_DOMAIN_ID"`
	ClientID            string        `env:"FEDIDS_COORDINATOR_CLIENT_ID"`
	ClientKey           string        `env:"FEDIDS_COORDINATOR_CLIENT_KEY"`
	ChannelID           string        `env:"FEDIDS_COORDINATOR_CHANNEL_ID"`
	ParamsKey           string        `env:"FEDIDS_COORDINATOR_PARAMS_KEY"`
	CheckpointBackend   string        `env:"FEDIDS_COORDINATOR_CHECKPOINT_BACKEND"    envDefault:"fs"`
	CheckpointPath      string        `env:"FEDIDS_COORDINATOR_CHECKPOINT_PATH"       envDefault:"checkpoints"`
	DBPath              string        `env:"FEDIDS_COORDINATOR_DB_PATH"               envDefault:"fedids.db"`
	MinAvailableClients int           `env:"FEDIDS_COORDINATOR_MIN_AVAILABLE_CLIENTS" envDefault:"2"`
	WaitTimeout         time.Duration `env:"FEDIDS_COORDINATOR_WAIT_TIMEOUT"          envDefault:"10m"`
	RequestTimeout      time.Duration `env:"FEDIDS_COORDINATOR_REQUEST_TIMEOUT"       envDefault:"1m"`
	AliveTimeout        time.Duration `env:"FEDIDS_COORDINATOR_ALIVE_TIMEOUT"         envDefault:"30s"`
	LivenessSchedule    string        `env:"FEDIDS_COORDINATOR_LIVENESS_SCHEDULE"     envDefault:"@every 10s"`
	TestData            string        `env:"FEDIDS_COORDINATOR_TEST_DATA"`
	StartOnBoot         bool          `env:"FEDIDS_COORDINATOR_START_ON_BOOT"         envDefault:"false"`
	Selector            string        `env:"FEDIDS_COORDINATOR_SELECTOR"              envDefault:"all"`
	Server              server.Config
	OTELURL             url.URL `env:"FEDIDS_COORDINATOR_OTEL_URL"`
	TraceRatio          float64 `env:"FEDIDS_COORDINATOR_TRACE_RATIO" envDefault:"0"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	runCfg, err := loadFileConfig(&cfg)
	if err != nil {
		logger.Error("failed to load config file", slog.String("path", cfg.ConfigFile), slog.Any("error", err))

		return
	}

	var tp trace.TracerProvider
	switch {
	case cfg.OTELURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := jaeger.NewProvider(ctx, svcName, cfg.OTELURL, cfg.InstanceID, cfg.TraceRatio)
		if err != nil {
			logger.Error("failed to initialize opentelemetry", slog.String("error", err.Error()))

			return
		}
		defer func() {
			if err := sdktp.Shutdown(ctx); err != nil {
				logger.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		tp = sdktp
	}
	tracer := tp.Tracer(svcName)

	codec, err := newCodec(cfg.ParamsKey)
	if err != nil {
		logger.Error("invalid parameters key", slog.Any("error", err))

		return
	}

	ckpts, err := backend.Open(cfg.CheckpointBackend, cfg.CheckpointPath)
	if err != nil {
		logger.Error("failed to open checkpoint store", slog.Any("error", err))

		return
	}
	defer ckpts.Close()

	selector, err := orchestration.NewSelector(cfg.Selector)
	if err != nil {
		logger.Error("failed to configure client selector", slog.String("error", err.Error()))

		return
	}

	db, err := sqlite.NewDatabase(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open round history", slog.Any("error", err))

		return
	}
	defer db.Close()
	rounds := sqlite.NewRoundRepository(db)

	mqttID := cfg.ClientID
	if mqttID == "" {
		mqttID = svcName + "-" + cfg.InstanceID
	}
	pubsub, err := mqtt.NewPubSub(mqtt.Config{
		URL:        cfg.MQTTAddress,
		ID:         mqttID,
		Username:   cfg.ClientID,
		Password:   cfg.ClientKey,
		QoS:        cfg.MQTTQoS,
		Timeout:    cfg.MQTTTimeout,
		CACert:     cfg.MQTTCACert,
		ClientCert: cfg.MQTTClientCert,
		ClientKey:  cfg.MQTTClientKey,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize mqtt pubsub", slog.String("error", err.Error()))

		return
	}

	topics := orchestration.NewTopicBuilder(cfg.DomainID, cfg.ChannelID)
	registry := store.NewMemoryRegistry(storage.NewInMemoryStorage())
	coord := orchestration.NewCoordinator(
		registry,
		executor.NewMQTTDispatcher(pubsub, topics, codec),
		ckpts,
		logger,
		orchestration.WithSelector(selector),
		orchestration.WithEventEmitter(events.Fanout(
			events.NewMQTTEventEmitter(pubsub, topics),
			events.NewHistoryEmitter(rounds),
			events.NewMetricsEmitter(promclient.DefaultRegisterer),
		)),
	)

	svc := coordinator.NewService(coordinator.Config{
		DomainID:            cfg.DomainID,
		ChannelID:           cfg.ChannelID,
		MinAvailableClients: cfg.MinAvailableClients,
		WaitTimeout:         cfg.WaitTimeout,
		RequestTimeout:      cfg.RequestTimeout,
		AliveTimeout:        cfg.AliveTimeout,
		LivenessSchedule:    cfg.LivenessSchedule,
		TestData:            cfg.TestData,
	}, coord, registry, ckpts, rounds, pubsub, codec, logger)
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics(svcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	if err := svc.Subscribe(ctx); err != nil {
		logger.Error("failed to subscribe to coordinator topics", slog.String("error", err.Error()))

		return
	}

	sweeper, err := coordinator.NewLivenessSweeper(ctx, svc, cfg.LivenessSchedule, logger)
	if err != nil {
		logger.Error("invalid liveness schedule", slog.Any("error", err))

		return
	}
	sweeper.Start()
	defer sweeper.Stop()

	if cfg.StartOnBoot {
		run, err := runCfg.Orchestration()
		if err != nil {
			logger.Error("invalid run configuration", slog.Any("error", err))

			return
		}
		if _, err := svc.StartRun(ctx, run); err != nil {
			logger.Error("failed to start run", slog.Any("error", err))

			return
		}
	}

	httpServerConfig := server.Config{Port: defHTTPPort}
	if err := env.ParseWithOptions(&httpServerConfig, env.Options{Prefix: envPrefixHTTP}); err != nil {
		logger.Error(fmt.Sprintf("failed to load %s HTTP server configuration : %s", svcName, err.Error()))

		return
	}

	hs := httpserver.NewServer(ctx, cancel, svcName, httpServerConfig, api.MakeHandler(svc, logger, cfg.InstanceID), logger)

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, svcName, hs)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
	}

	shutdown, stop := context.WithTimeout(context.Background(), cfg.MQTTTimeout)
	defer stop()
	if err := pubsub.Disconnect(shutdown); err != nil {
		logger.Warn("failed to disconnect from broker", slog.Any("error", err))
	}
}

// loadFileConfig fills identity fields missing from the environment with
// the [coordinator] section and returns the [run] section with the
// FEDIDS_COORDINATOR_RUN_ overrides applied.
func loadFileConfig(cfg *envConfig) (fedids.RunConfig, error) {
	run := fedids.DefaultRunConfig()

	if _, err := os.Stat(cfg.ConfigFile); err == nil {
		file, err := fedids.LoadConfig(cfg.ConfigFile)
		if err != nil {
			return fedids.RunConfig{}, err
		}
		run = file.Run

		fill := func(dst *string, v string) {
			if *dst == "" {
				*dst = v
			}
		}
		fill(&cfg.DomainID, file.Coordinator.DomainID)
		fill(&cfg.ClientID, file.Coordinator.ClientID)
		fill(&cfg.ClientKey, file.Coordinator.ClientKey)
		fill(&cfg.ChannelID, file.Coordinator.ChannelID)
		fill(&cfg.ParamsKey, file.Coordinator.ParamsKey)
	}

	if err := env.ParseWithOptions(&run, env.Options{Prefix: envPrefixRun}); err != nil {
		return fedids.RunConfig{}, err
	}

	return run, nil
}

func newCodec(key string) (orchestration.Codec, error) {
	if key == "" {
		return orchestration.NewCodec(nil), nil
	}

	sealer, err := crypto.NewSealer(key)
	if err != nil {
		return orchestration.Codec{}, err
	}

	return orchestration.NewCodec(sealer), nil
}
