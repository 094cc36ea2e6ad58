package cli

import (
	"context"

	"github.com/absmach/gradsync"
	"github.com/absmach/gradsync/pkg/history"
	"github.com/absmach/gradsync/pkg/storage"
	"github.com/spf13/cobra"
)

// withRepositories opens the trial and history repositories named by the
// configuration for the duration of fn.
func withRepositories(cmd *cobra.Command, fn func(ctx context.Context, cfg gradsync.Config, repos *storage.Repositories) error) error {
	path, err := cmd.Flags().GetString(configFlag)
	if err != nil {
		return err
	}
	cfg, err := gradsync.Load(path, nil)
	if err != nil {
		return err
	}
	repos, err := storage.NewRepositories(cfg.Storage)
	if err != nil {
		return err
	}
	defer repos.Close()

	return fn(cmd.Context(), cfg, repos)
}

func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [show|list|view]",
		Short: "Training histories",
		Long:  `Show history files and histories kept in storage.`,
	}

	showCmd := &cobra.Command{
		Use:   "show <file>",
		Short: "Show history file",
		Long:  `Show a history file written at the end of a run.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			h, err := history.ReadFile(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, h)
		},
	}

	var offset, limit uint64
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List histories",
		Long:  `List histories kept in storage.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			err := withRepositories(cmd, func(ctx context.Context, _ gradsync.Config, repos *storage.Repositories) error {
				hs, total, err := repos.Histories.List(ctx, offset, limit)
				if err != nil {
					return err
				}
				logJSONCmd(*cmd, map[string]any{"total": total, "offset": offset, "limit": limit, "histories": hs})

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
		Use:   "view <name>",
		Short: "View history",
		Long:  `View a history kept in storage by its file name.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			err := withRepositories(cmd, func(ctx context.Context, _ gradsync.Config, repos *storage.Repositories) error {
				h, err := repos.Histories.Get(ctx, args[0])
				if err != nil {
					return err
				}
				logJSONCmd(*cmd, h)

				return nil
			})
			if err != nil {
				logErrorCmd(*cmd, err)
			}
		},
	}

	cmd.AddCommand(showCmd, listCmd, viewCmd)

	return cmd
}
