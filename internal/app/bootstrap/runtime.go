package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	eventadapter "github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/adapters/events"
	grpcadapter "github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/adapters/grpc"
	httpadapter "github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/adapters/http"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/ports"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/worker"
)

type Runtime struct {
	*Core

	httpServer *http.Server
	grpcServer *grpc.Server
	grpcAddr   string
	outbox     *eventadapter.OutboxWorker
	consumer   *eventadapter.ConsumerWorker
	sweep      *worker.Scheduler
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	core, err := NewCore(ctx, configPath)
	if err != nil {
		return nil, err
	}
	cfg := core.Config
	logger := core.Logger
	logger.Info("bootstrapping m15 settlement engine", "http_port", cfg.HTTPPort, "grpc_port", cfg.GRPCPort)

	verifier, err := httpadapter.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		core.Close()
		return nil, fmt.Errorf("init token verifier: %w", err)
	}
	handler := httpadapter.NewHandler(core.Service, core.Gateways)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpadapter.NewRouter(handler, verifier),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sqlDB, err := core.DB.DB()
	if err != nil {
		core.Close()
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	grpcServer := grpc.NewServer()
	grpcadapter.Register(grpcServer, grpcadapter.NewSettlementInternalServer(sqlDB.PingContext))

	var publisher ports.EventPublisher = eventadapter.NewLoggingPublisher(logger)
	var consumer eventadapter.Consumer = eventadapter.NewNoopConsumer()
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.EventTopics)
		if err != nil {
			core.Close()
			return nil, fmt.Errorf("init kafka publisher: %w", err)
		}
		core.closers = append(core.closers, func() { _ = kafkaPublisher.Close() })
		publisher = kafkaPublisher

		kafkaConsumer, err := eventadapter.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaConsumerGroup,
			[]string{cfg.TopicCampaignBooked, cfg.TopicCampaignCancelled})
		if err != nil {
			core.Close()
			return nil, fmt.Errorf("init kafka consumer: %w", err)
		}
		core.closers = append(core.closers, func() { _ = kafkaConsumer.Close() })
		consumer = kafkaConsumer
	} else {
		logger.Warn("KAFKA_BROKERS not set; outbox events are logged and no campaign events are consumed")
	}

	outbox := eventadapter.NewOutboxWorker(logger, core.Repos.Outbox, publisher, eventadapter.OutboxConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		ClaimTTL:     cfg.OutboxClaimTTL,
		MaxRetries:   cfg.OutboxMaxRetries,
	})
	consumerWorker := eventadapter.NewConsumerWorker(logger, consumer, core.Service, cfg.ConsumerPollInterval)
	sweep := worker.NewScheduler("run_sweep", cfg.SweepInterval, logger, func(ctx context.Context) error {
		_, err := core.Service.RunSweep(ctx)
		return err
	})

	return &Runtime{
		Core:       core,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcAddr:   fmt.Sprintf(":%d", cfg.GRPCPort),
		outbox:     outbox,
		consumer:   consumerWorker,
		sweep:      sweep,
	}, nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", r.grpcAddr)
	if err != nil {
		r.Close()
		return fmt.Errorf("listen gRPC: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		r.Logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.Logger.Info("grpc server started", "addr", lis.Addr().String())
		if err := r.grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		r.Logger.Info("shutdown signal received")
	case runErr = <-errCh:
		r.Logger.Error("server failure", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.Close()
	return runErr
}

// RunWorker drives the outbox relay, the campaign event consumer and the settlement
// sweep until a signal arrives or one of them fails.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loops := map[string]func(context.Context) error{
		"outbox":   r.outbox.Run,
		"consumer": r.consumer.Run,
		"sweep":    r.sweep.Run,
	}
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for name, run := range loops {
		wg.Add(1)
		go func(name string, run func(context.Context) error) {
			defer wg.Done()
			r.Logger.Info("worker loop started", "loop", name)
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errOnce.Do(func() {
					firstErr = fmt.Errorf("%s: %w", name, err)
					cancel()
				})
			}
		}(name, run)
	}
	wg.Wait()

	r.Close()
	return firstErr
}
