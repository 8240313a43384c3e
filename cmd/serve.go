package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/linkedin-inbox/internal/api"
	"github.com/xkilldash9x/linkedin-inbox/internal/browser/session"
	"github.com/xkilldash9x/linkedin-inbox/internal/extraction"
	"github.com/xkilldash9x/linkedin-inbox/internal/governor"
	"github.com/xkilldash9x/linkedin-inbox/internal/inbox"
	"github.com/xkilldash9x/linkedin-inbox/internal/observability"
)

// reapInterval is how often idle browser sessions are checked.
const reapInterval = time.Minute

func newServeCmd(v *viper.Viper) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the browser session supervisor",
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

			migrate, _ := cmd.Flags().GetBool("migrate")
			if migrate {
				if _, err := st.Migrate(ctx); err != nil {
					return err
				}
			}

			gov := governor.New(governor.LimitsFromConfig(cfg.Governor), nil, logger)
			launcher := session.NewChromeLauncher(cfg, logger)
			registry := session.NewRegistry(session.NewFactory(cfg, launcher, logger, session.WithLoginHook(gov.RecordLogin)), logger)

			engine := extraction.New(extraction.ConfigFrom(cfg), extraction.DefaultCatalog(), logger)
			svc, err := inbox.New(inbox.SessionRunner{Registry: registry}, engine, st, gov, inbox.LimitsFrom(cfg.Extraction), logger)
			if err != nil {
				return fmt.Errorf("failed to initialize inbox service: %w", err)
			}
			srv, err := api.New(cfg.Server, st, svc, gov, registry, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize api server: %w", err)
			}

			logger.Info("Starting linkedin-inbox", zap.String("version", Version), zap.Int("port", cfg.Server.Port))
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return registry.Run(gctx, reapInterval) })
			g.Go(func() error { return srv.Run(gctx) })
			err = g.Wait()

			// Browsers outlive the signal context; close them on a fresh one.
			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
			defer cancel()
			if cerr := registry.CloseAll(closeCtx); cerr != nil {
				logger.Warn("Failed to close every browser session.", zap.Error(cerr))
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("linkedin-inbox stopped.")
			return nil
		},
	}
	serveCmd.Flags().IntP("port", "p", 0, "override server.port")
	serveCmd.Flags().Bool("headless", false, "override browser.headless")
	serveCmd.Flags().Bool("migrate", false, "apply pending migrations before serving")
	_ = v.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = v.BindPFlag("browser.headless", serveCmd.Flags().Lookup("headless"))
	return serveCmd
}
