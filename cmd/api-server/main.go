package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/superlogger/superlogger/pkg/apiserver"
	"github.com/superlogger/superlogger/pkg/backend"
	"github.com/superlogger/superlogger/pkg/config"
	"github.com/superlogger/superlogger/pkg/eventbus"
	"github.com/superlogger/superlogger/pkg/logger"
	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/sink"
	"github.com/superlogger/superlogger/pkg/transport/console"
	"github.com/superlogger/superlogger/pkg/transport/kafka"
	"github.com/superlogger/superlogger/pkg/transport/mail"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zl, err := logger.NewOperational(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		panic(err)
	}
	defer zl.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	desc, err := backend.Descriptor(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("Invalid sink configuration", zap.Error(err))
	}
	sinkOpts := backend.SinkOptions(cfg, desc, zl)

	if cfg.Redis.Enabled {
		client, err := eventbus.NewClient(ctx, &cfg.Redis)
		if err != nil {
			zl.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer client.Close()
		sinkOpts.OnLogged = eventbus.NewBus(client, cfg.Redis.Channel).Forwarder(ctx, zl)
	}

	st, err := sink.New(sinkOpts)
	if err != nil {
		zl.Fatal("Failed to create sink", zap.Error(err))
	}

	transports, err := buildTransports(cfg, st, zl)
	if err != nil {
		zl.Fatal("Failed to create transports", zap.Error(err))
	}
	log := logger.New(append(transports,
		logger.WithOperational(zl),
		logger.WithCaller(),
		logger.WithStoreErrorCheck(backend.IsStoreError),
	)...)
	defer log.RecoverAndLog()

	if cfg.Kafka.Ingest {
		startIngest(ctx, cfg, st, zl)
	}

	server := apiserver.NewServer(st, log, cfg, zl)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.ReadTimeout * 2,
	}

	go func() {
		zl.Info("Starting API server", zap.Int("port", cfg.Server.HTTPPort), zap.String("driver", cfg.Sink.Driver))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Fatal("Server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zl.Error("Server forced to shutdown", zap.Error(err))
	}
	cancel()
	if err := log.Close(shutdownCtx); err != nil {
		zl.Error("Failed to close transports", zap.Error(err))
	}
}

// buildTransports returns the logger options for every enabled destination.
// The store sink is always last.
func buildTransports(cfg *config.Config, st *sink.Sink, zl *zap.Logger) ([]logger.Option, error) {
	var opts []logger.Option

	if cfg.Console.Enabled {
		level, err := model.ParseLevel(cfg.Console.MinLevel)
		if err != nil {
			return nil, fmt.Errorf("console: %w", err)
		}
		opts = append(opts, logger.WithTransport(console.New(console.Options{MinLevel: level, Color: cfg.Console.Color})))
	}

	if cfg.Mail.Enabled {
		level, err := model.ParseLevel(cfg.Mail.MinLevel)
		if err != nil {
			return nil, fmt.Errorf("mail: %w", err)
		}
		t, err := mail.New(mail.Options{
			From:     cfg.Mail.From,
			To:       cfg.Mail.To,
			Subject:  cfg.Mail.Subject,
			HTML:     cfg.Mail.HTML,
			MinLevel: level,
			Sender: &mail.SMTPSender{
				Host:     cfg.Mail.Host,
				Port:     cfg.Mail.Port,
				Username: cfg.Mail.Username,
				Password: cfg.Mail.Password,
				StartTLS: cfg.Mail.StartTLS,
			},
			Logger: zl,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, logger.WithTransport(t))
	}

	if cfg.Kafka.Enabled {
		level, err := model.ParseLevel(cfg.Kafka.MinLevel)
		if err != nil {
			return nil, fmt.Errorf("kafka: %w", err)
		}
		opts = append(opts, logger.WithTransport(kafka.NewProducer(kafka.ProducerConfig{
			Brokers:   cfg.Kafka.Brokers,
			ClientID:  cfg.Kafka.ClientID,
			Topic:     cfg.Kafka.Topic,
			MinLevel:  level,
			BatchSize: cfg.Kafka.BatchSize,
			QueueSize: cfg.Kafka.QueueSize,
			Logger:    zl,
		})))
	}

	return append(opts, logger.WithTransport(st)), nil
}

// startIngest persists entries other processes publish to the topic. They go
// straight to the sink so they are never republished.
func startIngest(ctx context.Context, cfg *config.Config, st *sink.Sink, zl *zap.Logger) {
	ingest := logger.New(logger.WithTransport(st), logger.WithOperational(zl))
	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: cfg.Kafka.ClientID,
		GroupID:  cfg.Kafka.GroupID,
		Topic:    cfg.Kafka.Topic,
		DedupTTL: cfg.Kafka.DedupTTL,
		Logger:   zl,
	}, func(ctx context.Context, entry model.LogEntry) error {
		ingest.Write(entry)
		return nil
	})

	go func() {
		defer consumer.Close()
		zl.Info("Starting kafka ingest", zap.String("topic", cfg.Kafka.Topic))
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			zl.Error("Kafka ingest stopped", zap.Error(err))
		}
	}()
}
