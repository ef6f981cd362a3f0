package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"scenecraft/internal/generation"
	"scenecraft/internal/orchestrator"
	"scenecraft/internal/planner"
	"scenecraft/internal/progress"
	"scenecraft/internal/providers"
	"scenecraft/internal/stitch"
	"scenecraft/internal/store"
	"scenecraft/pkg/config"
	"scenecraft/pkg/ffmpeg"
	"scenecraft/pkg/httpclient"
	"scenecraft/pkg/storage"
)

type loggerKey struct{}

// WithLogger stores the process logger on ctx
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

func loggerFrom(ctx context.Context) (*zap.Logger, error) {
	logger, ok := ctx.Value(loggerKey{}).(*zap.Logger)
	if !ok || logger == nil {
		return nil, fmt.Errorf("logger not found in context")
	}
	return logger, nil
}

// app holds the wired pipeline shared by serve, worker and run
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db        *gorm.DB
	repo      *store.GormRepository
	store     storage.Storage
	redis     *redis.Client
	publisher progress.Publisher

	coordinator *orchestrator.Coordinator
	assets      *generation.AssetGenerator
	music       *generation.MusicGenerator
}

func loadConfig(logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Info("Configuration loaded",
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("storage_bucket", cfg.Storage.Bucket),
		zap.Bool("queue_enabled", cfg.Queue.Enabled),
		zap.Int("scene_concurrency", cfg.Pipeline.SceneConcurrency),
		zap.Duration("call_timeout", cfg.Pipeline.CallTimeout),
		zap.Duration("total_timeout", cfg.Pipeline.TotalTimeout))
	return cfg, nil
}

// newApp connects the database, object store and redis and wires the
// providers, generators and coordinator
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	db, err := store.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, db: db, repo: store.NewGormRepository(db, logger)}

	a.store, err = storage.NewStorage(cfg.Storage, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	var cancels orchestrator.CancelRegistry
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.publisher = progress.NewRedisPublisher(a.redis, logger)
		cancels = orchestrator.NewRedisCancelRegistry(a.redis, cfg.Pipeline.CancelTTL)
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	} else {
		a.publisher = progress.NewMemoryHub()
		cancels = orchestrator.NewMemoryCancelRegistry(cfg.Pipeline.CancelTTL)
	}

	client := httpclient.NewHTTPClient(httpclient.Config{
		Timeout:       cfg.HTTP.Timeout,
		RetryAttempts: cfg.HTTP.RetryAttempts,
		RetryDelay:    cfg.HTTP.RetryDelay,
		UserAgent:     cfg.HTTP.UserAgent,
	}, logger)
	tool := ffmpeg.NewTool(ffmpeg.Config{
		FFmpegPath:  cfg.FFmpeg.FFmpegPath,
		FFprobePath: cfg.FFmpeg.FFprobePath,
		Timeout:     cfg.FFmpeg.Timeout,
	}, ffmpeg.NewExecRunner(logger), logger)

	pipe := cfg.Pipeline
	video := providers.NewHTTPVideoProvider(cfg.Providers.Video, client, logger)
	images := providers.NewOpenAIImageProvider(cfg.Providers.Image, pipe.CallTimeout, logger)
	music := providers.NewHTTPMusicProvider(cfg.Providers.Music, client, logger)

	a.assets = generation.NewAssetGenerator(images, client, a.store, a.repo, pipe.MaxAssets, pipe.WorkDir, logger)
	a.music = generation.NewMusicGenerator(music, client, a.store, a.repo, pipe.WorkDir, logger)
	scenes := generation.NewSceneGenerator(video, client, tool, a.store, generation.SceneConfig{
		PollInterval:      cfg.Providers.Video.PollInterval,
		GenerationTimeout: cfg.Providers.Video.GenerationTimeout,
		WorkDir:           pipe.WorkDir,
	}, logger)

	a.coordinator = orchestrator.NewCoordinator(orchestrator.Dependencies{
		Repo:      a.repo,
		Planner:   planner.NewOpenAIPlanner(cfg.Providers.LLM, pipe.MaxSceneSeconds, pipe.CallTimeout, logger),
		Assets:    a.assets,
		Scenes:    scenes,
		Stitcher:  stitch.New(tool, client, a.store, pipe.WorkDir, logger),
		Store:     a.store,
		Publisher: a.publisher,
		Cancels:   cancels,
	}, orchestrator.Config{
		SceneConcurrency:  pipe.SceneConcurrency,
		AssetConcurrency:  pipe.AssetConcurrency,
		CallTimeout:       pipe.CallTimeout,
		RetryAttempts:     pipe.RetryAttempts,
		TotalTimeout:      pipe.TotalTimeout,
		MaxAssets:         pipe.MaxAssets,
		MaxSceneSeconds:   pipe.MaxSceneSeconds,
		MusicVolume:       pipe.MusicVolume,
		DefaultVideoModel: cfg.Providers.Video.DefaultModel,
		DefaultImageModel: cfg.Providers.Image.DefaultModel,
	}, logger)

	return a, nil
}

// health pings the database and redis
func (a *app) health(ctx context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// staleAge is how long a run may stay generating before the sweeper fails it
func (a *app) staleAge() time.Duration {
	return a.cfg.Pipeline.TotalTimeout + a.cfg.Pipeline.StaleGrace
}

// startSweeper fails runs abandoned by a crashed process once a minute
func (a *app) startSweeper(ctx context.Context) (*cron.Cron, error) {
	sweeper := orchestrator.NewSweeper(a.repo, a.staleAge(), a.logger)
	c := cron.New()
	_, err := c.AddFunc("@every 1m", func() {
		if _, err := sweeper.Sweep(ctx); err != nil {
			a.logger.Warn("Stale run sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule stale run sweeper: %w", err)
	}
	c.Start()
	a.logger.Info("Stale run sweeper started", zap.Duration("max_age", a.staleAge()))
	return c, nil
}

// Close releases connections
func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
