package fedids

import (
	"fmt"
	"os"
	"time"

	"github.com/absmach/fedids/pkg/fl"
	"github.com/absmach/fedids/pkg/orchestration"
	"github.com/pelletier/go-toml"
)

const filePermission = 0o644

type Config struct {
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Client      ClientConfig      `toml:"client"`
	Run         RunConfig         `toml:"run"`
}

type CoordinatorConfig struct {
	URL       string `toml:"url"`
	DomainID  string `toml:"domain_id"`
	ClientID  string `toml:"client_id"`
	ClientKey string `toml:"client_key"`
	ChannelID string `toml:"channel_id"`
	ParamsKey string `toml:"params_key"` // Hex AES key sealing parameter payloads
}

type ClientConfig struct {
	DomainID  string `toml:"domain_id"`
	ClientID  string `toml:"client_id"`
	ClientKey string `toml:"client_key"`
	ChannelID string `toml:"channel_id"`
	ParamsKey string `toml:"params_key"`
	DataPath  string `toml:"data_path"`
}

// RunConfig is the [run] section. Fields can be overridden from the
// environment by the coordinator.
type RunConfig struct {
	StartRound    uint64 `toml:"start_round"     env:"START_ROUND"`
	Rounds        uint64 `toml:"rounds"          env:"ROUNDS"`
	TargetClients int    `toml:"target_clients"  env:"TARGET_CLIENTS"`
	MinFitClients int    `toml:"min_fit_clients" env:"MIN_FIT_CLIENTS"`
	Timeout       string `toml:"timeout"         env:"TIMEOUT"`
	Epochs        int    `toml:"epochs"          env:"EPOCHS"`
	BatchSize     int    `toml:"batch_size"      env:"BATCH_SIZE"`
}

func DefaultRunConfig() RunConfig {
	return RunConfig{
		Rounds:        3,
		MinFitClients: 2,
		Timeout:       "5m",
		Epochs:        1,
		BatchSize:     32,
	}
}

// Orchestration converts the section into a validated run configuration.
func (r RunConfig) Orchestration() (orchestration.RunConfig, error) {
	timeout, err := time.ParseDuration(r.Timeout)
	if err != nil {
		return orchestration.RunConfig{}, fmt.Errorf("invalid run timeout %q: %w", r.Timeout, err)
	}

	cfg := orchestration.RunConfig{
		StartRound: r.StartRound,
		Rounds:     r.Rounds,
		Round: orchestration.RoundConfig{
			TargetClients: r.TargetClients,
			MinFitClients: r.MinFitClients,
			Timeout:       timeout,
			Fit: fl.FitConfig{
				Epochs:    r.Epochs,
				BatchSize: r.BatchSize,
			},
		},
	}
	if err := cfg.Validate(); err != nil {
		return orchestration.RunConfig{}, err
	}

	return cfg, nil
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	cfg := Config{Run: DefaultRunConfig()}
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func SaveConfig(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, filePermission); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
