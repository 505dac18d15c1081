package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/marketplace-checkout/pkg/config"
	"github.com/angelmondragon/marketplace-checkout/pkg/db"
	"github.com/angelmondragon/marketplace-checkout/pkg/logger"
)

// MaybeRunDev applies pending migrations when running in dev with
// CHECKOUT_AUTO_MIGRATE set. The SQL files target Postgres, so sqlite runs are
// skipped.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	if strings.EqualFold(cfg.DB.Driver, config.DriverSQLite) {
		logg.Warn(ctx, "skipping goose auto-run for sqlite driver")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithField(ctx, "dir", DefaultDir)
	runner, err := NewRunner(sqlDB, DefaultDir, logg)
	if err != nil {
		return err
	}

	logg.Info(ctx, "applying pending migrations (dev auto-run)")
	return runner.Up(ctx)
}
