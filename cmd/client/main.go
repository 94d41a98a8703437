package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/fedids"
	"github.com/absmach/fedids/client"
	"github.com/absmach/fedids/pkg/crypto"
	"github.com/absmach/fedids/pkg/dataset"
	"github.com/absmach/fedids/pkg/model"
	"github.com/absmach/fedids/pkg/mqtt"
	"github.com/absmach/fedids/pkg/orchestration"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const pathEnv = ".env"

var errMissingData = errors.New("missing training data path")

type envConfig struct {
	LogLevel         string        `env:"FEDIDS_CLIENT_LOG_LEVEL"         envDefault:"info"`
	ConfigFile       string        `env:"FEDIDS_CLIENT_CONFIG"            envDefault:"config.toml"`
	MQTTAddress      string        `env:"FEDIDS_CLIENT_MQTT_ADDRESS"      envDefault:"tcp://localhost:1883"`
	MQTTQoS          uint8         `env:"FEDIDS_CLIENT_MQTT_QOS"          envDefault:"2"`
	MQTTTimeout      time.Duration `env:"FEDIDS_CLIENT_MQTT_TIMEOUT"      envDefault:"30s"`
	MQTTCACert       string        `env:"FEDIDS_CLIENT_MQTT_CA_CERT"`
	MQTTClientCert   string        `env:"FEDIDS_CLIENT_MQTT_CLIENT_CERT"`
	MQTTClientKey    string        `env:"FEDIDS_CLIENT_MQTT_CLIENT_KEY"`
	DomainID         string        `env:"FEDIDS_CLIENT_DOMAIN_ID"`
	ClientID         string        `env:"FEDIDS_CLIENT_CLIENT_ID"`
	ClientKey        string        `env:"FEDIDS_CLIENT_CLIENT_KEY"`
	ChannelID        string        `env:"FEDIDS_CLIENT_CHANNEL_ID"`
	ParamsKey        string        `env:"FEDIDS_CLIENT_PARAMS_KEY"`
	Name             string        `env:"FEDIDS_CLIENT_NAME"`
	DataPath         string        `env:"FEDIDS_CLIENT_DATA_PATH"`
	Hidden           []int         `env:"FEDIDS_CLIENT_HIDDEN"            envSeparator:","`
	Dropout          []float64     `env:"FEDIDS_CLIENT_DROPOUT"           envSeparator:","`
	LearningRate     float64       `env:"FEDIDS_CLIENT_LEARNING_RATE"`
	Seed             uint64        `env:"FEDIDS_CLIENT_SEED"`
	LivenessInterval time.Duration `env:"FEDIDS_CLIENT_LIVENESS_INTERVAL" envDefault:"10s"`
	AckTimeout       time.Duration `env:"FEDIDS_CLIENT_ACK_TIMEOUT"       envDefault:"5s"`
	RegisterTimeout  time.Duration `env:"FEDIDS_CLIENT_REGISTER_TIMEOUT"  envDefault:"5m"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := loadFileConfig(&cfg); err != nil {
		log.Fatalf("failed to load config file: %s", err.Error())
	}
	if cfg.DataPath == "" {
		log.Fatal(errMissingData)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	data, err := dataset.Load(cfg.DataPath)
	if err != nil {
		log.Fatalf("failed to load training data: %s", err.Error())
	}

	m, err := model.NewMLP(modelConfig(cfg, data.NumFeatures()))
	if err != nil {
		log.Fatalf("failed to build model: %s", err.Error())
	}

	codec := orchestration.NewCodec(nil)
	if cfg.ParamsKey != "" {
		sealer, err := crypto.NewSealer(cfg.ParamsKey)
		if err != nil {
			log.Fatalf("invalid parameters key: %s", err.Error())
		}
		codec = orchestration.NewCodec(sealer)
	}

	pubsub, err := mqtt.NewPubSub(mqtt.Config{
		URL:        cfg.MQTTAddress,
		ID:         cfg.ClientID,
		Username:   cfg.ClientID,
		Password:   cfg.ClientKey,
		QoS:        cfg.MQTTQoS,
		Timeout:    cfg.MQTTTimeout,
		CACert:     cfg.MQTTCACert,
		ClientCert: cfg.MQTTClientCert,
		ClientKey:  cfg.MQTTClientKey,
		Will:       client.LastWill(cfg.DomainID, cfg.ChannelID, cfg.ClientID),
	}, logger)
	if err != nil {
		log.Fatalf("failed to initialize mqtt pubsub: %s", err.Error())
	}

	logger.Info("Starting client",
		slog.String("client_id", cfg.ClientID),
		slog.Int("samples", data.Len()),
		slog.Int("features", data.NumFeatures()),
	)

	svc := client.NewService(client.Config{
		DomainID:         cfg.DomainID,
		ChannelID:        cfg.ChannelID,
		Name:             cfg.Name,
		LivenessInterval: cfg.LivenessInterval,
		AckTimeout:       cfg.AckTimeout,
		RegisterTimeout:  cfg.RegisterTimeout,
	}, client.NewAgent(cfg.ClientID, m, data), pubsub, codec, logger)

	runErr := svc.Run(ctx)

	shutdown, stop := context.WithTimeout(context.Background(), cfg.MQTTTimeout)
	defer stop()
	if err := pubsub.Disconnect(shutdown); err != nil {
		logger.Warn("failed to disconnect from broker", slog.Any("error", err))
	}

	if runErr != nil {
		logger.Error("client exited with error", slog.Any("error", runErr))
		os.Exit(1)
	}
}

// loadFileConfig fills fields missing from the environment with the
// [client] section of the config file, when it exists.
func loadFileConfig(cfg *envConfig) error {
	if _, err := os.Stat(cfg.ConfigFile); err != nil {
		return nil
	}

	file, err := fedids.LoadConfig(cfg.ConfigFile)
	if err != nil {
		return err
	}

	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&cfg.DomainID, file.Client.DomainID)
	fill(&cfg.ClientID, file.Client.ClientID)
	fill(&cfg.ClientKey, file.Client.ClientKey)
	fill(&cfg.ChannelID, file.Client.ChannelID)
	fill(&cfg.ParamsKey, file.Client.ParamsKey)
	fill(&cfg.DataPath, file.Client.DataPath)

	return nil
}

func modelConfig(cfg envConfig, inputs int) model.Config {
	mc := model.DefaultConfig(inputs)
	if len(cfg.Hidden) > 0 {
		mc.Hidden = cfg.Hidden
		mc.Dropout = cfg.Dropout
	}
	if cfg.LearningRate > 0 {
		mc.LearningRate = cfg.LearningRate
	}
	if cfg.Seed > 0 {
		mc.Seed = cfg.Seed
	}

	return mc
}
