package cli

import "github.com/spf13/cobra"

func NewClientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients [list|view]",
		Short: "Registered clients",
		Long:  `List and view clients registered with the coordinator.`,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List clients",
		Long:  `List registered clients and their liveness.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			page, err := fsdk.ListClients(defOffset, defLimit)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}

	listCmd.Flags().Uint64VarP(&defOffset, "offset", "o", defOffset, "Offset")
	listCmd.Flags().Uint64VarP(&defLimit, "limit", "l", defLimit, "Limit")

	viewCmd := &cobra.Command{
		Use:   "view <id>",
		Short: "View client",
		Long:  `View a registered client.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			c, err := fsdk.GetClient(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, c)
		},
	}

	cmd.AddCommand(listCmd, viewCmd)

	return cmd
}
