package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/linkedin-inbox/internal/observability"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFrom(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			defer observability.Sync()

			st, closeStore, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			applied, err := st.Migrate(ctx)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				cmd.Println("Schema is up to date.")
			}
			for _, name := range applied {
				cmd.Printf("Applied %s\n", name)
			}

			orphans, err := st.OrphanCount(ctx)
			if err != nil {
				return err
			}
			if orphans > 0 {
				logger.Warn("Conversations without an account were found.", zap.Int("count", orphans))
				cmd.Printf("%d conversation(s) have no LinkedIn account and are hidden from every user.\n", orphans)
			}
			return nil
		},
	}
}
