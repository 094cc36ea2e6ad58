package cli

import (
	"context"

	"github.com/absmach/gradsync"
	"github.com/absmach/gradsync/pkg/sdk"
	"github.com/absmach/gradsync/pkg/storage"
	"github.com/absmach/gradsync/search"
	"github.com/spf13/cobra"
)

func NewTrialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trials [list|view|best]",
		Short: "Search trials",
		Long:  `List, view and rank the trials recorded by searches, from storage or from the status API of a running search.`,
	}

	var url string
	cmd.PersistentFlags().StringVar(&url, "url", "", "status API of a running job, storage is read when empty")

	service := func(cmd *cobra.Command, fn func(ctx context.Context, svc search.Service) error) error {
		if url != "" {
			return fn(cmd.Context(), sdk.NewSDK(sdk.Config{URL: url, TLSVerification: true}))
		}

		return withRepositories(cmd, func(ctx context.Context, cfg gradsync.Config, repos *storage.Repositories) error {
			return fn(ctx, search.NewService(repos.Trials, cfg.Maximize))
		})
	}

	var offset, limit uint64
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List trials",
		Long:  `List trials in creation order.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			err := service(cmd, func(ctx context.Context, svc search.Service) error {
				page, err := svc.ListTrials(ctx, offset, limit)
				if err != nil {
					return err
				}
				logJSONCmd(*cmd, page)

				return nil
			})
			if err != nil {
				logErrorCmd(*cmd, err)
			}
		},
	}
	listCmd.Flags().Uint64Var(&offset, "offset", defOffset, "offset")
	listCmd.Flags().Uint64Var(&limit, "limit", defLimit, "limit")

	viewCmd := &cobra.Command{
		Use:   "view <id>",
		Short: "View trial",
		Long:  `View a trial by its ID.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			err := service(cmd, func(ctx context.Context, svc search.Service) error {
				t, err := svc.GetTrial(ctx, args[0])
				if err != nil {
					return err
				}
				logJSONCmd(*cmd, t)

				return nil
			})
			if err != nil {
				logErrorCmd(*cmd, err)
			}
		},
	}

	bestCmd := &cobra.Command{
		Use:   "best",
		Short: "Best trial",
		Long:  `View the completed trial with the best metric.`,
		Run: func(cmd *cobra.Command, _ []string) {
			err := service(cmd, func(ctx context.Context, svc search.Service) error {
				t, err := svc.BestTrial(ctx)
				if err != nil {
					return err
				}
				logJSONCmd(*cmd, t)

				return nil
			})
			if err != nil {
				logErrorCmd(*cmd, err)
			}
		},
	}

	cmd.AddCommand(listCmd, viewCmd, bestCmd)

	return cmd
}
