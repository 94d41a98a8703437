package cli

import (
	"github.com/absmach/fedids/pkg/checkpoint"
	"github.com/absmach/fedids/pkg/checkpoint/backend"
	"github.com/absmach/fedids/pkg/checkpoint/oci"
	"github.com/absmach/fedids/pkg/dataset"
	"github.com/absmach/fedids/pkg/evaluator"
	"github.com/absmach/fedids/pkg/fl"
	"github.com/spf13/cobra"
)

var (
	storeKind string
	storePath string
	testData  string
	fitCfg    fl.FitConfig
)

func NewCheckpointsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints [list|view|evaluate|export|push|pull]",
		Short: "Global model checkpoints",
		Long:  `List, view, evaluate and export global model checkpoints.`,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List checkpoints",
		Long:  `List the checkpoints written by the coordinator.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			infos, err := fsdk.ListCheckpoints()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, infos)
		},
	}

	viewCmd := &cobra.Command{
		Use:   "view <round|latest>",
		Short: "View checkpoint",
		Long:  `View the parameters of a checkpoint.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			round, err := parseRound(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			ckpt, err := fsdk.GetCheckpoint(round)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, ckpt)
		},
	}

	evaluateCmd := &cobra.Command{
		Use:   "evaluate <round|latest>",
		Short: "Evaluate checkpoint",
		Long: `Evaluate a checkpoint on the clients' data, or locally on a held-out CSV.

Examples:
  # Federated evaluation on the alive clients
  fedids-cli checkpoints evaluate latest --batch-size 64

  # Local evaluation against a checkpoint directory
  fedids-cli checkpoints evaluate 5 --data test.csv --store ./checkpoints`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			round, err := parseRound(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			if testData == "" {
				eval, err := fsdk.EvaluateCheckpoint(round, fitCfg)
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}
				logJSONCmd(*cmd, eval)

				return
			}

			report, err := evaluateLocal(cmd, round)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, report)
		},
	}

	evaluateCmd.Flags().StringVarP(&testData, "data", "d", "", "Held-out CSV evaluated locally")
	evaluateCmd.Flags().IntVarP(&fitCfg.Epochs, "epochs", "e", 0, "Epochs passed to the clients")
	evaluateCmd.Flags().IntVarP(&fitCfg.BatchSize, "batch-size", "b", 0, "Batch size passed to the clients")

	exportCmd := &cobra.Command{
		Use:   "export <round|latest>",
		Short: "Export checkpoint",
		Long:  `Pack a checkpoint from a local store into the OCI layout at FEDIDS_OCI_ROOT.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			round, err := parseRound(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			ckpt, err := loadLocal(cmd, round)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			cfg, err := oci.Init()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			desc, err := cfg.Export(cmd.Context(), ckpt)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logSuccessCmd(*cmd, "Exported "+oci.Tag(ckpt.Round)+" to "+cfg.Root)
			logJSONCmd(*cmd, desc)
		},
	}

	pushCmd := &cobra.Command{
		Use:   "push <round> <repository>",
		Short: "Push checkpoint",
		Long: `Push an exported round to an OCI registry.

Examples:
  fedids-cli checkpoints push 5 localhost:5000/fedids/model`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 2 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			round, err := parseRound(args[0])
			if err != nil || round == 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			cfg, err := oci.Init()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			desc, err := cfg.Push(cmd.Context(), args[1], round)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, desc)
		},
	}

	pullCmd := &cobra.Command{
		Use:   "pull <round> <repository>",
		Short: "Pull checkpoint",
		Long:  `Pull a round from an OCI registry and save it into the local store.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 2 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			round, err := parseRound(args[0])
			if err != nil || round == 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			cfg, err := oci.Init()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			ckpt, err := cfg.Pull(cmd.Context(), args[1], round)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			store, err := backend.Open(storeKind, storePath)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			defer store.Close()

			if err := store.Save(cmd.Context(), ckpt); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	for _, c := range []*cobra.Command{evaluateCmd, exportCmd, pullCmd} {
		c.Flags().StringVar(&storeKind, "backend", backend.FS, "Checkpoint store backend: fs or badger")
		c.Flags().StringVarP(&storePath, "store", "s", "checkpoints", "Checkpoint store path")
	}

	cmd.AddCommand(listCmd, viewCmd, evaluateCmd, exportCmd, pushCmd, pullCmd)

	return cmd
}

func loadLocal(cmd *cobra.Command, round uint64) (checkpoint.Checkpoint, error) {
	store, err := backend.Open(storeKind, storePath)
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}
	defer store.Close()

	if round == 0 {
		return store.Latest(cmd.Context())
	}

	return store.Load(cmd.Context(), round)
}

func evaluateLocal(cmd *cobra.Command, round uint64) (evaluator.Report, error) {
	data, err := dataset.Load(testData)
	if err != nil {
		return evaluator.Report{}, err
	}

	store, err := backend.Open(storeKind, storePath)
	if err != nil {
		return evaluator.Report{}, err
	}
	defer store.Close()

	return evaluator.New(store, nil).EvaluateRound(cmd.Context(), round, data)
}
