package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/linkedin-inbox/internal/config"
	"github.com/xkilldash9x/linkedin-inbox/internal/store"
)

// openStore connects the pool and wraps it. The returned func closes the pool.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store.Store, func(), error) {
	loc, err := cfg.Stealth.Location()
	if err != nil {
		return nil, nil, err
	}
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(ctx, pool, logger, store.WithLocation(loc))
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return st, pool.Close, nil
}
