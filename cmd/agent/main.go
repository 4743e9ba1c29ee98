// Command agent runs a headless collaboration session: it connects to a
// relay room, mirrors the shared document into a local store, and keeps the
// replica converged while the process runs. It is useful for persistence
// (point a bolt, redis, or mongo backend at a room) and for soak-testing a
// relay deployment.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"journeysync/client"
	"journeysync/journey"
	"journeysync/store"
)

type config struct {
	RelayURL  string `env:"AGENT_RELAY_URL" envDefault:"http://localhost:8081"`
	JourneyID string `env:"AGENT_JOURNEY_ID,required"`
	UserID    string `env:"AGENT_USER_ID"`
	UserName  string `env:"AGENT_USER_NAME" envDefault:"agent"`

	// Backend selects the storage adapter: memory, bolt, redis, or mongo.
	Backend   string `env:"AGENT_STORAGE" envDefault:"memory"`
	BoltPath  string `env:"AGENT_BOLT_PATH" envDefault:"journeys.db"`
	RedisAddr string `env:"AGENT_REDIS_ADDR" envDefault:"localhost:6379"`
	MongoURI  string `env:"AGENT_MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDB   string `env:"AGENT_MONGO_DB" envDefault:"journeysync"`

	ReconnectBaseDelay   time.Duration `env:"AGENT_RECONNECT_BASE_DELAY" envDefault:"500ms"`
	MaxReconnectAttempts int           `env:"AGENT_MAX_RECONNECT_ATTEMPTS" envDefault:"10"`
	Debug                bool          `env:"AGENT_DEBUG" envDefault:"false"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	storage, err := openStorage(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}
	defer storage.Close()

	ds := store.NewDocumentStore(storage, logger)
	session := client.New(client.Config{
		Endpoint:             cfg.RelayURL,
		JourneyID:            cfg.JourneyID,
		UserID:               cfg.UserID,
		UserName:             cfg.UserName,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, ds, logger)

	session.OnDocument = func(doc *journey.Map) {
		logger.Debug("document updated",
			zap.String("journey_id", doc.ID),
			zap.Int("touchpoints", len(doc.LiveTouchpoints())),
			zap.Int64("operation_count", doc.OperationCount))
	}
	session.OnState = func(s client.State) {
		logger.Info("connection state changed", zap.String("state", string(s)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := session.Connect(ctx); err != nil {
		// The session keeps retrying on its own schedule.
		logger.Warn("initial connection failed", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	session.Disconnect()
}

func openStorage(cfg config, logger *zap.Logger) (store.Storage, error) {
	switch cfg.Backend {
	case "bolt":
		logger.Info("using bolt storage", zap.String("path", cfg.BoltPath))
		return store.OpenBoltStorage(cfg.BoltPath)

	case "redis":
		logger.Info("using redis storage", zap.String("addr", cfg.RedisAddr))
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return nil, err
		}
		return store.NewRedisStorage(rdb, ""), nil

	case "mongo":
		logger.Info("using mongo storage", zap.String("uri", cfg.MongoURI))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mc, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, err
		}
		return store.NewMongoStorage(mc.Database(cfg.MongoDB)), nil

	default:
		return store.NewMemoryStorage(), nil
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
