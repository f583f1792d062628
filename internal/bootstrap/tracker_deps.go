// Package bootstrap wires the tracker's adapters and services for each run
// mode.
package bootstrap

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"tracker_server/adapter/in/worker"
	emailcache "tracker_server/adapter/out/cache"
	"tracker_server/adapter/out/llm"
	"tracker_server/adapter/out/memory"
	"tracker_server/adapter/out/messaging"
	"tracker_server/adapter/out/mongodb"
	"tracker_server/adapter/out/persistence"
	"tracker_server/adapter/out/provider"
	"tracker_server/adapter/out/push"
	"tracker_server/config"
	"tracker_server/core/port/out"
	"tracker_server/core/service/auth"
	"tracker_server/core/service/autoreply"
	"tracker_server/core/service/tracking"
	"tracker_server/infra/database"
	"tracker_server/pkg/cache"
	"tracker_server/pkg/crypto"
	"tracker_server/pkg/httputil"
	"tracker_server/pkg/logger"
)

const setupTimeout = 30 * time.Second

// Dependencies holds every long-lived component. Stores fall back to the
// in-memory adapters when their database is not configured.
type Dependencies struct {
	Config   *config.Config
	Log      zerolog.Logger
	Mongo    *mongo.Client
	Postgres *database.Postgres
	Redis    *redis.Client

	Apps  out.ApplicationRepository
	Logs  out.EmailLogRepository
	Conns out.ConnectionRepository

	Gmail      *provider.GmailMailbox
	Dispatcher *autoreply.Dispatcher
	Pipeline   *tracking.Pipeline
	Tracking   *tracking.Service
	Accounts   *auth.MailAccountService

	// JobHandler runs auto-reply jobs; Pool runs them in-process and is
	// also the job queue when Redis is absent.
	JobHandler *worker.Handler
	Pool       *worker.Pool
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	d := &Dependencies{
		Config: cfg,
		Log:    logger.Default().Zerolog(),
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if err := d.initStores(ctx, &closers); err != nil {
		cleanup()
		return nil, nil, err
	}
	d.initServices()

	return d, cleanup, nil
}

func (d *Dependencies) initStores(ctx context.Context, closers *[]func()) error {
	cfg := d.Config

	if cfg.MongoDBURL != "" {
		client, err := mongodb.Connect(ctx, cfg.MongoDBURL, mongodb.DefaultClientConfig())
		if err != nil {
			return err
		}
		*closers = append(*closers, func() { _ = client.Disconnect(context.Background()) })
		d.Mongo = client

		db := client.Database(cfg.MongoDBName)
		apps := mongodb.NewApplicationAdapter(db)
		logs := mongodb.NewEmailLogAdapter(db)
		if err := mongodb.EnsureIndexes(ctx, apps, logs); err != nil {
			return err
		}
		d.Apps, d.Logs = apps, logs
		logger.Info("MongoDB connected: %s", cfg.MongoDBName)
	} else {
		d.Apps, d.Logs = memory.NewApplicationStore(), memory.NewEmailLogStore()
		logger.Warn("MONGODB_URL not set, applications are kept in memory")
	}

	if cfg.DatabaseURL != "" {
		pg, err := database.NewPostgres(ctx, cfg.DatabaseURL, nil)
		if err != nil {
			return err
		}
		*closers = append(*closers, pg.Close)
		d.Postgres = pg

		var cipher *crypto.TokenCipher
		if cfg.EncryptionKey != "" {
			if cipher, err = crypto.NewTokenCipher(cfg.EncryptionKey); err != nil {
				return err
			}
		} else {
			logger.Warn("ENCRYPTION_KEY not set, mail tokens are stored unencrypted")
		}
		conns := persistence.NewConnectionAdapter(pg.DB, cipher)
		if err := conns.EnsureSchema(ctx); err != nil {
			return err
		}
		d.Conns = conns
		logger.Info("PostgreSQL connected")
	} else {
		d.Conns = memory.NewConnectionStore()
		logger.Warn("DATABASE_URL not set, mail connections are kept in memory")
	}

	if cfg.RedisURL != "" {
		client, err := database.NewRedis(ctx, cfg.RedisURL, nil)
		if err != nil {
			return err
		}
		*closers = append(*closers, func() { _ = client.Close() })
		d.Redis = client
		logger.Info("Redis connected")
	} else {
		logger.Warn("REDIS_URL not set, auto-reply jobs run in-process")
	}
	return nil
}

func (d *Dependencies) initServices() {
	cfg := d.Config

	d.Gmail = provider.NewGmailMailbox(provider.GmailConfig{
		ClientID:       cfg.GoogleClientID,
		ClientSecret:   cfg.GoogleClientSecret,
		RedirectURL:    cfg.GoogleRedirectURL,
		CandidateLimit: cfg.ScanCandidateLimit,
		MaxResults:     cfg.ScanMaxResults,
		NewerThanDays:  cfg.ScanNewerThanDays,
		SafeRecipient:  cfg.AutoReplySafeRecipient,
		HTTPClient:     httputil.NewClient(httputil.GmailClientConfig()),
	}, d.Conns, d.Log)

	drafter := llm.NewReplyDrafter(llm.ClientConfig{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		Timeout:     time.Duration(cfg.LLMTimeoutSec) * time.Second,
		HTTPClient:  httputil.NewClient(httputil.OpenAIClientConfig()),
	})

	var opts []autoreply.Option
	if notifier := d.newNotifier(); notifier != nil {
		opts = append(opts, autoreply.WithNotifier(notifier))
	}
	d.Dispatcher = autoreply.NewDispatcher(d.Apps, nil, drafter, d.Gmail, autoreply.Config{
		MaxAttempts: cfg.AutoReplyMaxAttempts,
		SenderName:  cfg.AutoReplySenderName,
		ClaimTTL:    cfg.AutoReplyClaimTTL,
	}, d.Log, opts...)

	d.JobHandler = worker.NewHandler(d.Dispatcher)
	poolCfg := worker.DefaultPoolConfig()
	poolCfg.MaxWorkers = cfg.WorkerMax
	poolCfg.WorkerChanSize = cfg.WorkerQueueSize
	d.Pool = worker.NewPool(d.JobHandler, poolCfg, d.Log)

	if d.Redis != nil {
		d.Dispatcher.SetJobQueue(messaging.NewRedisProducer(d.Redis))
	} else {
		d.Dispatcher.SetJobQueue(d.Pool)
	}

	d.Pipeline = tracking.NewPipeline(d.Apps, d.Logs, d.Log, tracking.WithScheduler(d.Dispatcher))

	d.Tracking = tracking.NewService(d.Pipeline, d.Gmail, d.Apps, d.Logs, d.Dispatcher,
		emailcache.NewEmailBodyCache(d.cacheStore(), cfg.CacheEmailTTL))

	d.Accounts = auth.NewMailAccountService(d.Gmail, d.Conns, cfg.JWTSecret)
}

// newNotifier returns nil when push is disabled. Expo tokens are always
// served; FCM tokens only when Firebase starts. The FCM client outlives
// setup, so it gets a background context.
func (d *Dependencies) newNotifier() out.PushNotifier {
	if !d.Config.PushEnabled {
		return nil
	}
	opts := []push.Option{
		push.WithExpo(push.NewExpoClient(
			httputil.NewClient(httputil.DefaultClientConfig()),
			d.Config.ExpoPushURL,
			d.Config.ExpoAccessToken,
		)),
	}
	fcm, err := push.NewFCMSender(context.Background(), d.Config.FirebaseCredentialsFile)
	if err != nil {
		logger.WithError(err).Warn("FCM push disabled")
	} else {
		opts = append(opts, push.WithFCM(fcm))
	}
	return push.NewNotifier(d.Conns, d.Log, opts...)
}

func (d *Dependencies) cacheStore() cache.JSONCache {
	if d.Redis != nil {
		return cache.NewRedisCache(d.Redis)
	}
	return cache.NewMemoryCache(nil)
}

// InProcessJobs reports whether auto-reply jobs run on this process's pool
// rather than through the Redis stream.
func (d *Dependencies) InProcessJobs() bool {
	return d.Redis == nil
}
