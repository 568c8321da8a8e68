package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"haine/internal/config"
	"haine/internal/metrics"
	"haine/internal/repository"
	"haine/internal/repository/counter"
	"haine/internal/repository/exchange"
	"haine/internal/repository/memory"
	"haine/internal/repository/message"
	"haine/internal/repository/token"
	"haine/internal/repository/user"
	"haine/internal/service/auth"
	exchangeSvc "haine/internal/service/exchange"
	"haine/internal/service/messaging"
	"haine/internal/service/notify"
	"haine/internal/service/prime"
	redisSvc "haine/internal/service/redis"
	"haine/internal/service/server"
	"haine/internal/service/updates"
	"haine/internal/utils/log"
	"haine/internal/utils/ratelimit"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type stores struct {
	users     repository.UserStore
	tokens    repository.TokenStore
	messages  repository.MessageStore
	exchanges repository.ExchangeStore
	pairs     repository.PairLocker
	notifier  notify.Notifier
	cache     auth.TokenCache
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)

	var cfgFile string
	cmd := &cobra.Command{
		Use:           "haine-server",
		Short:         "Messaging server with long-poll updates and DH key exchange",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return errors.Wrapf(err, "read config %s", cfgFile)
				}
			}

			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if err := log.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg); err != nil {
				log.Error("server stopped", zap.Error(err))
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfgFile, "config", "", "path to a YAML config file")
	f.String("store", config.StoreMongo, "storage backend: mongo or memory")
	f.String("http.addr", "localhost:9090", "HTTP listen address")
	f.String("mongo.uri", "mongodb://localhost:27017", "MongoDB connection URI")
	f.String("mongo.database", "haine", "MongoDB database name")
	f.String("redis.addr", "localhost:6379", "Redis address")
	f.Duration("poll.timeout", updates.DefaultTimeout, "long-poll timeout")
	f.Duration("poll.interval", updates.DefaultInterval, "long-poll re-check interval")
	f.Bool("dh.generate", false, "regenerate the DH prime in the background")
	f.String("dh.prime_file", "", "file holding the DH prime")
	f.String("log.level", "info", "log level")
	f.Bool("log.development", false, "human readable logs")
	if err := v.BindPFlags(f); err != nil {
		panic(err)
	}
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	st, cleanup, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	authOpts := []auth.Option{}
	if st.cache != nil {
		authOpts = append(authOpts, auth.WithCache(st.cache))
	}
	authSvc := auth.NewService(st.users, st.tokens, authOpts...)

	primes := prime.NewProvider(prime.Options{
		Path:     cfg.DH.PrimeFile,
		Refresh:  cfg.DH.Refresh,
		Generate: cfg.DH.Generate,
	})
	go primes.Run(ctx)

	srv := server.NewHttpServer(cfg.HTTPAddr, server.Deps{
		Auth:        authSvc,
		Messaging:   messaging.NewService(st.messages, authSvc, st.notifier, m, cfg.Dialogs),
		Coordinator: exchangeSvc.NewCoordinator(st.exchanges, authSvc, st.notifier, m, exchangeSvc.WithPairLocker(st.pairs)),
		Poller:      updates.NewPoller(st.messages, st.exchanges, st.notifier, m, cfg.Poll.Timeout, cfg.Poll.Interval),
		Primes:      primes,
		Metrics:     m,
		Gatherer:    reg,
		AuthLimiter: ratelimit.New(cfg.Auth.Rate, cfg.Auth.Burst, 0),
	})
	return srv.Run(ctx)
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, func(), error) {
	if cfg.Store == config.StoreMemory {
		log.Warn("using in-memory store, data is lost on exit")
		db := memory.New()
		return &stores{
			users:     db.Users(),
			tokens:    db.Tokens(),
			messages:  db.Messages(),
			exchanges: db.Exchanges(),
			pairs:     db.PairLocks(),
			notifier:  notify.NewHub(),
		}, func() {}, nil
	}

	mongoClient, err := initMongo(ctx, cfg.Mongo.URI)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect mongo")
	}
	db := mongoClient.Database(cfg.Mongo.Database)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	rds := redisSvc.NewRedis(rdb)
	if err := rds.Ping(ctx); err != nil {
		mongoClient.Disconnect(context.Background())
		return nil, nil, errors.Wrap(err, "connect redis")
	}

	cleanup := func() {
		rds.Close()
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.Warn("mongo disconnect failed", zap.Error(err))
		}
	}

	counters := counter.NewCounterRepo(db)
	users := user.NewUserRepo(db, counters)
	tokens := token.NewTokenRepo(db)
	messages := message.NewMessageRepo(db, counters)
	exchanges := exchange.NewExchangeRepo(db, counters)
	pairs := exchange.NewLockRepo(db)

	for _, ix := range []interface {
		EnsureIndexes(context.Context) error
	}{users, tokens, messages, exchanges, pairs} {
		if err := ix.EnsureIndexes(ctx); err != nil {
			cleanup()
			return nil, nil, errors.Wrap(err, "ensure indexes")
		}
	}

	notifier := notify.NewRedisNotifier(rds)
	go func() {
		if err := notifier.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("update notifier stopped, polls fall back to interval checks", zap.Error(err))
		}
	}()

	return &stores{
		users:     users,
		tokens:    tokens,
		messages:  messages,
		exchanges: exchanges,
		pairs:     pairs,
		notifier:  notifier,
		cache:     auth.NewRedisTokenCache(rds, cfg.Auth.TokenTTL),
	}, cleanup, nil
}

func initMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
