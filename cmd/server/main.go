package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/socialsapp/socials-service/internal/composer"
	"github.com/socialsapp/socials-service/internal/config"
	"github.com/socialsapp/socials-service/internal/entry"
	"github.com/socialsapp/socials-service/internal/feed"
	"github.com/socialsapp/socials-service/internal/logger"
	"github.com/socialsapp/socials-service/internal/media"
	"github.com/socialsapp/socials-service/internal/model"
	"github.com/socialsapp/socials-service/internal/session"
	"github.com/socialsapp/socials-service/internal/store"
	httptransport "github.com/socialsapp/socials-service/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. load config
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(&model.Social{}, &model.User{}, &model.OutboxEvent{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	// 6. event store
	notifier := store.NewRedisNotifier(rdb)
	eventStore := store.NewStore(gdb, rdb, notifier, kw, log)

	// 7. session provider & entry router
	ttl := time.Duration(cfg.Auth.SessionTTLHours) * time.Hour
	sessions := session.NewProvider(gdb, rdb, cfg.Auth.JWTSecret, ttl, log)
	router := entry.NewRouter(sessions)
	defer router.Close()

	// 8. media store
	var mediaStore media.Store
	if cfg.Media.Bucket != "" {
		mediaStore, err = media.NewS3Store(cfg.Media.Bucket, cfg.Media.Region, cfg.Media.BaseURL)
		if err != nil {
			log.Fatalf("media store: %v", err)
		}
	} else {
		mediaStore = media.NewMemoryStore(cfg.Media.BaseURL)
		log.Warn("no media bucket configured, using in-memory store")
	}

	// 9. feed & composer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eventFeed := feed.New(eventStore, log)
	go func() {
		if err := eventFeed.Run(ctx); err != nil && err != context.Canceled {
			log.Errorf("feed stopped: %v", err)
		}
	}()
	eventComposer := composer.New(eventStore, mediaStore, log)

	// 10. gin router
	engine := httptransport.NewRouter(httptransport.Deps{
		Session:  sessions,
		Store:    eventStore,
		Feed:     eventFeed,
		Composer: eventComposer,
		Entry:    router,
		Media:    mediaStore,
	}, cfg.RateLimit, log)

	// 11. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("socials-server listening on %s", addr)
	if err := http.ListenAndServe(addr, engine); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
