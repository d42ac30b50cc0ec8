package migration

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentledger/internal/config"
	"github.com/smallbiznis/rentledger/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, node *snowflake.Node, log *zap.Logger) error {
		if !cfg.RunMigrations {
			log.Info("schema migrations disabled")
			return nil
		}
		if err := Apply(conn, cfg.DBType); err != nil {
			return err
		}

		master, err := seed.EnsureMasterTenant(context.Background(), conn, node)
		if err != nil {
			return err
		}
		log.Info("schema ready", zap.String("db_type", cfg.DBType), zap.String("master_tenant_id", master.ID.String()))
		return nil
	}),
)
