package app

import (
	"context"
	"fmt"
	"time"

	"count-backend/internal/cache"
	"count-backend/internal/config"
	"count-backend/internal/database"
	"count-backend/internal/db"
	"count-backend/internal/models"
	"count-backend/internal/repositories"
	"count-backend/internal/services"
	"count-backend/internal/storage"
	"count-backend/internal/timeutil"
	"count-backend/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds the wired services shared by the server and countctl
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Pool    *pgxpool.Pool
	Store   *repositories.PGStore
	Master  *repositories.MasterDataRepository
	Cache   *cache.ConsolidationCache
	Cycles  *services.InventoryCycleService
	Counts  *services.SectorCountService
	Reports *services.ReportService

	redis *redis.Client
}

// New connects to PostgreSQL, and to Redis and the report archive when enabled.
// Redis and the archive are optional: failures are logged and the app runs without them.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := timeutil.SetLocation(cfg.Timezone); err != nil {
		return nil, err
	}

	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.String("name", cfg.Database.Name))

	a := &App{
		Config: cfg,
		Logger: logger,
		Pool:   pool,
		Store:  repositories.NewPGStore(pool),
		Master: repositories.NewMasterDataRepository(pool),
	}

	if cfg.Redis.Enabled {
		client, err := cache.NewClient(ctx, cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Warn("redis unavailable, running without consolidation cache",
				zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			a.redis = client
			logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
		}
	}
	a.Cache = cache.NewConsolidationCache(a.redis, cfg.Cache.TTL, logger)

	var archive services.ReportArchive
	if cfg.Archive.Enabled {
		s3Archive, err := storage.NewS3Archive(ctx, cfg.Archive)
		if err != nil {
			logger.Warn("report archive unavailable", zap.Error(err))
		} else {
			archive = s3Archive
		}
	}

	clock := timeutil.SystemClock{}
	a.Cycles = services.NewInventoryCycleService(a.Store, a.Master, clock, logger)
	a.Counts = services.NewSectorCountService(a.Store, a.Master, a.Cycles, a.Cache, clock, logger)
	a.Reports = services.NewReportService(a.Counts, a.Cycles, archive, clock, logger)
	return a, nil
}

// Migrate applies the embedded schema migrations
func (a *App) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := database.NewMigrator(a.Pool, migrations.FS, a.Logger).RunMigrations(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (a *App) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	a.Pool.Close()
}

func (a *App) CancelCycle(ctx context.Context, cycleID int) (*models.InventoryCycle, error) {
	return a.Cycles.CancelCycle(ctx, cycleID)
}

func (a *App) ForceComplete(ctx context.Context, sectorCountID, operatorID int, reason string) (*models.SectorCount, error) {
	return a.Counts.ForceComplete(ctx, sectorCountID, operatorID, reason)
}

func (a *App) ArchiveCycle(ctx context.Context, cycleID int) ([]services.ArchivedReport, error) {
	return a.Reports.ArchiveCycle(ctx, cycleID)
}
