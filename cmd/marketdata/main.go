package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/joho/godotenv"
	"github.com/nanzhong/marketdata/api"
	"github.com/nanzhong/marketdata/budget"
	"github.com/nanzhong/marketdata/cache"
	"github.com/nanzhong/marketdata/config"
	"github.com/nanzhong/marketdata/fallback"
	"github.com/nanzhong/marketdata/logger"
	"github.com/nanzhong/marketdata/market"
	"github.com/nanzhong/marketdata/marketdata"
	"github.com/nanzhong/marketdata/metrics"
	"github.com/nanzhong/marketdata/slack"
	"github.com/nanzhong/marketdata/source"
	"github.com/nanzhong/marketdata/usage"
	finance "github.com/piquette/finance-go"
	"github.com/redis/go-redis/v9"
	slackgo "github.com/slack-go/slack"
)

var (
	configPath string
	addr       string
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	flag.StringVar(&configPath, "config", envOrString("CONFIG_PATH", "config/config.yml"), "Path to the YAML configuration file.")
	flag.StringVar(&addr, "addr", envOrString("ADDR", ""), "Address to listen on, overrides server.addr.")
	flag.Parse()

	log := logger.GetLogger()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Fatal("Failed to configure logger")
	}

	ctx := context.Background()
	env := cfg.Env()
	log.WithFields(logger.Fields{"environment": string(env), "addr": cfg.Server.Addr}).Info("Starting market data service")

	finance.SetHTTPClient(&http.Client{Timeout: cfg.Upstream.Timeout})

	var (
		cacheStore   cache.Store = cache.NewMemoryStore()
		usageChecker usage.Checker
	)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
	})
	limits := usage.Limits{Daily: cfg.Usage.DailyLimit, Monthly: cfg.Usage.MonthlyLimit}
	if store, err := cache.NewRedisStore(ctx, redisClient); err != nil {
		log.WithError(err).Warn("Redis unavailable, using in-memory cache and usage counters")
		usageChecker = usage.NewMemoryCounter(limits)
	} else {
		cacheStore = store
		usageChecker = usage.NewRedisCounter(redisClient, limits)
	}
	defer redisClient.Close()

	var fallbackStore fallback.Store = fallback.NewMemoryStore()
	var db *sql.DB
	if cfg.Fallback.DSN != "" {
		db, err = fallback.OpenPostgres(cfg.Fallback.DSN, fallback.PoolOptions{
			MaxOpenConns:    cfg.Fallback.MaxOpenConns,
			MaxIdleConns:    cfg.Fallback.MaxIdleConns,
			ConnMaxLifetime: cfg.Fallback.ConnMaxLifetime,
		})
		if err != nil {
			log.WithError(err).Fatal("Failed to open fallback database")
		}
		defer db.Close()

		pg := fallback.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.WithError(err).Warn("Fallback database unavailable, using in-memory fallback store")
		} else {
			fallbackStore = pg
		}
	}

	var budgetChecker budget.Checker = budget.Static{}
	if cfg.Budget.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Budget.Region))
		if err != nil {
			log.WithError(err).Warn("Failed to load AWS configuration, budget checks disabled")
		} else {
			budgetChecker = budget.NewCloudWatchChecker(cloudwatch.NewFromConfig(awsCfg), budget.Options{
				FunctionName:      cfg.Budget.FunctionName,
				FreeTierLimit:     cfg.Budget.FreeTierLimit,
				WarningThreshold:  cfg.Budget.WarningThreshold,
				CriticalThreshold: cfg.Budget.CriticalThreshold,
				CacheTTL:          cfg.Budget.CacheTTL,
			}, log)
		}
	}

	m := metrics.New()
	service := marketdata.NewService(marketdata.Options{
		Env: env,
		Fetcher: source.New(
			market.NewYahooProvider(cfg.Upstream.DefaultRates),
			env,
			source.NewLimiter(cfg.Upstream.RequestsPerSecond, cfg.Upstream.Burst),
			log,
		),
		Cache:    cache.New(cacheStore, log),
		Fallback: fallbackStore,
		Usage:    usageChecker,
		Budget:   budgetChecker,
		Metrics:  m,
		Log:      log,
	})

	slackClient := slackgo.New(cfg.Slack.BotToken)
	var notifier api.Notifier
	if cfg.Slack.BotToken != "" && cfg.Slack.AlertChannel != "" {
		notifier = slack.NewNotifier(slackClient, cfg.Slack.AlertChannel)
	}

	handler := api.NewHandler(api.Options{
		Service:       service,
		Notifier:      notifier,
		Metrics:       m,
		AllowedOrigin: cfg.Server.AllowedOrigin,
		Log:           log,
	})
	handler.Handle("/metrics", m.Handler())
	if cfg.Slack.BotToken != "" {
		handler.Handle("/slack/event", slack.NewEventHandler(slackClient, cfg.Slack.SigningSecret, service, log))
	}

	server := http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Starting http server...")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Http server listen failed")
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	sig := <-done
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("Got signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Http server shutdown failed")
	}
}

func envOrString(envKey, defaultValue string) string {
	value, defined := os.LookupEnv(envKey)
	if defined {
		return value
	}
	return defaultValue
}
