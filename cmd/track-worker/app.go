package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/CarrierGate/config"
	"github.com/BearBump/CarrierGate/internal/bootstrap"
	"github.com/BearBump/CarrierGate/internal/broker/kafka"
	"github.com/BearBump/CarrierGate/internal/broker/messages"
	"github.com/BearBump/CarrierGate/internal/services/poller"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type requestHandler interface {
	poller.Tracker
	ApplyTrackingRequest(ctx context.Context, msg messages.TrackingRequested) error
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handle kafka.RequestHandler) error
	Close() error
}

type workerDeps struct {
	repo  poller.Repository
	svc   requestHandler
	close func()
}

type workerFactories struct {
	newDeps     func(ctx context.Context, cfg *config.Config) (workerDeps, error)
	newConsumer func(cfg *config.Config) kafkaConsumer
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newDeps: func(ctx context.Context, cfg *config.Config) (workerDeps, error) {
			c, err := bootstrap.Build(ctx, cfg, bootstrap.Options{})
			if err != nil {
				return workerDeps{}, err
			}
			return workerDeps{repo: c.Store, svc: c.Service, close: c.Close}, nil
		},
		newConsumer: func(cfg *config.Config) kafkaConsumer {
			brokers := cfg.Kafka.Brokers()
			if len(brokers) == 0 {
				return nil
			}
			group := cfg.CarrierGate.KafkaConsumerGroup
			if group == "" {
				group = "carriergate-worker"
			}
			return kafka.NewConsumer(brokers, bootstrap.TopicsFrom(cfg).Requested, group)
		},
	}
}

func plannerConfig(cfg *config.Config) poller.PlannerConfig {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	w := cfg.CarrierGate
	return poller.PlannerConfig{
		RefreshMinAge: sec(w.WorkerRefreshMinAgeSeconds),
		RefreshMaxAge: sec(w.WorkerRefreshMaxAgeSeconds),
		Backoff1:      sec(w.WorkerBackoff1Seconds),
		Backoff2:      sec(w.WorkerBackoff2Seconds),
		Backoff3:      sec(w.WorkerBackoff3Seconds),
		Backoff4:      sec(w.WorkerBackoff4Seconds),
	}
}

// RunTrackWorker runs the refresh poller, the tracking.requested consumer and the worker HTTP
// server until ctx is done or one of them fails.
func RunTrackWorker(ctx context.Context, cfg *config.Config, f workerFactories, httpOpts workerHTTPOpts) error {
	pollInterval := time.Duration(cfg.CarrierGate.WorkerPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}

	deps, err := f.newDeps(ctx, cfg)
	if err != nil {
		return err
	}
	if deps.close != nil {
		defer deps.close()
	}

	p := poller.New(deps.repo, deps.svc).
		WithSettings(pollInterval, cfg.CarrierGate.WorkerBatchSize, cfg.CarrierGate.WorkerConcurrency).
		WithPlanner(plannerConfig(cfg))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(gctx) })

	if f.newConsumer != nil {
		if consumer := f.newConsumer(cfg); consumer != nil {
			defer func() { _ = consumer.Close() }()
			g.Go(func() error { return consumeRequests(gctx, consumer, deps.svc) })
		}
	}

	if httpOpts.httpAddr != "" {
		httpOpts.poller = p
		httpOpts.cfg = cfg
		g.Go(func() error { return runWorkerHTTPServer(gctx, httpOpts) })
	}

	return g.Wait()
}

// consumeRequests перезапускает чтение после ошибки обработчика: сообщение не закоммичено
// и придёт снова.
func consumeRequests(ctx context.Context, consumer kafkaConsumer, svc requestHandler) error {
	slog.Info("tracking request consumer started")
	for {
		err := consumer.Consume(ctx, svc.ApplyTrackingRequest)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			slog.Error("tracking request consumer", "error", errors.Cause(err).Error())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
