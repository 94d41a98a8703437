package cli

import (
	"github.com/absmach/fedids"
	"github.com/absmach/fedids/pkg/sdk"
	"github.com/spf13/cobra"
)

var (
	defOffset uint64 = 0
	defLimit  uint64 = 10

	configPath string
	runID      string
	run        = sdk.Run{}
)

var fsdk sdk.SDK

func SetSDK(s sdk.SDK) {
	fsdk = s
}

func NewRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [start|stop|last]",
		Short: "Training runs",
		Long:  `Start, stop and inspect federated training runs.`,
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a run",
		Long: `Start a training run on the coordinator.

Examples:
  # Start a run from the [run] section of a config file
  fedids-cli runs start --config config.toml

  # Start a 10 round run that needs 3 clients per round
  fedids-cli runs start --rounds 10 --min-fit-clients 3 --timeout 2m`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			r, err := runFromFlags(cmd)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			cfg, err := fsdk.StartRun(r)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, cfg)
		},
	}

	def := fedids.DefaultRunConfig()
	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML config file with a [run] section")
	startCmd.Flags().StringVar(&run.ID, "id", "", "Run identifier, generated when empty")
	startCmd.Flags().Uint64Var(&run.StartRound, "start-round", 0, "Number of the first round")
	startCmd.Flags().Uint64VarP(&run.Rounds, "rounds", "r", def.Rounds, "Number of rounds")
	startCmd.Flags().IntVar(&run.TargetClients, "target-clients", 0, "Clients sampled per round, 0 for all")
	startCmd.Flags().IntVarP(&run.MinFitClients, "min-fit-clients", "k", def.MinFitClients, "Minimum results needed to aggregate")
	startCmd.Flags().StringVarP(&run.Timeout, "timeout", "t", def.Timeout, "Round timeout")
	startCmd.Flags().IntVarP(&run.Epochs, "epochs", "e", def.Epochs, "Local training epochs")
	startCmd.Flags().IntVarP(&run.BatchSize, "batch-size", "b", def.BatchSize, "Local batch size")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the active run",
		Long:  `Abort the active run. Written checkpoints are kept.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := fsdk.StopRun(); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	lastCmd := &cobra.Command{
		Use:   "last",
		Short: "View the last run",
		Long:  `View the outcome of the last finished run.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			summary, err := fsdk.LastRun()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, summary)
		},
	}

	cmd.AddCommand(startCmd, stopCmd, lastCmd)

	return cmd
}

// runFromFlags reads the [run] section of --config when given. Flags set on
// the command line override it.
func runFromFlags(cmd *cobra.Command) (sdk.Run, error) {
	r := run
	if configPath == "" {
		return r, nil
	}

	cfg, err := fedids.LoadConfig(configPath)
	if err != nil {
		return sdk.Run{}, err
	}

	flags := cmd.Flags()
	if !flags.Changed("start-round") {
		r.StartRound = cfg.Run.StartRound
	}
	if !flags.Changed("rounds") {
		r.Rounds = cfg.Run.Rounds
	}
	if !flags.Changed("target-clients") {
		r.TargetClients = cfg.Run.TargetClients
	}
	if !flags.Changed("min-fit-clients") {
		r.MinFitClients = cfg.Run.MinFitClients
	}
	if !flags.Changed("timeout") {
		r.Timeout = cfg.Run.Timeout
	}
	if !flags.Changed("epochs") {
		r.Epochs = cfg.Run.Epochs
	}
	if !flags.Changed("batch-size") {
		r.BatchSize = cfg.Run.BatchSize
	}

	return r, nil
}

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Coordinator status",
		Long:  `View the coordinator phase and the progress of the active round.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			status, err := fsdk.Status()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, status)
		},
	}
}

func NewRoundsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rounds",
		Short: "Round history",
		Long:  `List stored round reports, optionally of a single run.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			page, err := fsdk.ListRounds(runID, defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Only list rounds of this run")
	cmd.Flags().Uint64VarP(&defOffset, "offset", "o", defOffset, "Offset")
	cmd.Flags().Uint64VarP(&defLimit, "limit", "l", defLimit, "Limit")

	return cmd
}
