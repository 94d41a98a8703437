package cli

import (
	"errors"
	"strconv"

	"github.com/absmach/fedids"
	"github.com/absmach/fedids/pkg/crypto"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var (
	errNotNumber  = errors.New("must be a positive number")
	errInvalidKey = errors.New("must be empty or a hex AES key")
)

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config [init]",
		Short: "Configuration",
		Long:  `Manage the fedids TOML configuration.`,
	}

	var path string

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a config file",
		Long:  `Create a config file through an interactive form.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			cfg, err := configForm()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			if err := fedids.SaveConfig(path, cfg); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logSuccessCmd(*cmd, "Successfully wrote "+path)
		},
	}

	initCmd.Flags().StringVarP(&path, "file", "f", "config.toml", "Config file to write")

	cmd.AddCommand(initCmd)

	return cmd
}

func configForm() (fedids.Config, error) {
	var (
		cfg                            = fedids.Config{Run: fedids.DefaultRunConfig()}
		domainID, channelID, paramsKey string
		rounds                         = strconv.FormatUint(cfg.Run.Rounds, 10)
		minFit                         = strconv.Itoa(cfg.Run.MinFitClients)
		epochs                         = strconv.Itoa(cfg.Run.Epochs)
		batchSize                      = strconv.Itoa(cfg.Run.BatchSize)
	)
	cfg.Coordinator.URL = "http://localhost:7070"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Coordinator URL").Value(&cfg.Coordinator.URL),
			huh.NewInput().Title("Domain ID").Value(&domainID),
			huh.NewInput().Title("Channel ID").Value(&channelID),
			huh.NewInput().
				Title("Parameters key").
				Description("Hex AES key shared by the coordinator and the clients, empty to disable").
				Value(&paramsKey).
				Validate(validateKey),
		),
		huh.NewGroup(
			huh.NewInput().Title("Client training data").Placeholder("train.csv").Value(&cfg.Client.DataPath),
			huh.NewInput().Title("Rounds").Value(&rounds).Validate(validateNumber),
			huh.NewInput().Title("Minimum fit clients").Value(&minFit).Validate(validateNumber),
			huh.NewInput().Title("Round timeout").Value(&cfg.Run.Timeout),
			huh.NewInput().Title("Local epochs").Value(&epochs).Validate(validateNumber),
			huh.NewInput().Title("Batch size").Value(&batchSize).Validate(validateNumber),
		),
	)
	if err := form.Run(); err != nil {
		return fedids.Config{}, err
	}

	cfg.Coordinator.DomainID, cfg.Client.DomainID = domainID, domainID
	cfg.Coordinator.ChannelID, cfg.Client.ChannelID = channelID, channelID
	cfg.Coordinator.ParamsKey, cfg.Client.ParamsKey = paramsKey, paramsKey

	// The inputs are validated by the form.
	cfg.Run.Rounds, _ = strconv.ParseUint(rounds, 10, 64)
	cfg.Run.MinFitClients, _ = strconv.Atoi(minFit)
	cfg.Run.Epochs, _ = strconv.Atoi(epochs)
	cfg.Run.BatchSize, _ = strconv.Atoi(batchSize)

	if _, err := cfg.Run.Orchestration(); err != nil {
		return fedids.Config{}, err
	}

	return cfg, nil
}

func validateNumber(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return errNotNumber
	}

	return nil
}

func validateKey(s string) error {
	if s == "" {
		return nil
	}
	if _, err := crypto.NewSealer(s); err != nil {
		return errInvalidKey
	}

	return nil
}
