// Package main is the entry point for the BreathGuard service.
//
// It loads configuration, connects the backing stores (PostgreSQL, Redis),
// loads the risk-model artifact, assembles the scoring pipeline with its
// alert channels, and serves the HTTP API. When MQTT ingestion is enabled it
// also subscribes to the sensing-node sample topic.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM):
// ingestion stops first, then the HTTP listener drains, then the pipeline
// workers finish their queued samples.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"breathguard/internal/api"
	"breathguard/internal/config"
	"breathguard/internal/db"
	"breathguard/internal/dispatch"
	"breathguard/internal/ingest"
	"breathguard/internal/livestate"
	"breathguard/internal/logging"
	"breathguard/internal/metrics"
	"breathguard/internal/pipeline"
	"breathguard/internal/queue"
	"breathguard/internal/scoring"
	"breathguard/internal/types"
)

const pipelineDrainTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.Service)
	logger.Info("breathguard starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
		"mqtt_enabled", cfg.MQTT.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Backing stores.
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	redisClient := livestate.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer redisClient.Close()
	mirror := livestate.NewMirror(redisClient, cfg.Redis.TTL, logger)
	if err := mirror.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}

	patients := db.NewPatientRepository(pool)
	scores := db.NewScoreRepository(pool)
	events := db.NewEventRepository(pool)
	outcomes := db.NewOutcomeRepository(pool)

	// Risk model.
	scorer, err := scoring.NewScorerFromFile(cfg.Model.ArtifactPath)
	if err != nil {
		return fmt.Errorf("loading model artifact: %w", err)
	}
	logger.Info("risk model loaded", "model_version", scorer.Version())

	// Optional AWS integrations: CloudWatch telemetry and the off-site
	// escalation queue.
	var (
		pipelineMetrics pipeline.Metrics = pipeline.NopMetrics{}
		dispatchMetrics dispatch.Metrics = dispatch.NopMetrics{}
		escalations     pipeline.EscalationNotifier
	)
	if cfg.AWS.MetricsEnabled || cfg.AWS.EscalationQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("loading AWS configuration: %w", err)
		}

		if cfg.AWS.MetricsEnabled {
			cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
				if cfg.AWS.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				}
			})
			recorder := metrics.NewRecorder(cwClient, cfg.AWS.MetricNamespace, logger)
			pipelineMetrics = recorder
			dispatchMetrics = recorder
		}

		if cfg.AWS.EscalationQueueURL != "" {
			sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
				if cfg.AWS.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				}
			})
			escalations = queue.NewEscalationPublisher(sqsClient, cfg.AWS, types.RealClock{}, logger)
		}
	}

	// Alert dispatch.
	httpClient := &http.Client{Timeout: cfg.Dispatch.AttemptTimeout}
	outcomeManager := dispatch.NewOutcomeManager(outcomes, logger)
	dispatcher := dispatch.NewDispatcher(outcomeManager, cfg.Dispatch.AttemptTimeout, logger,
		dispatch.WithMetrics(dispatchMetrics))
	dispatcher.Register(
		dispatch.NewBuzzerChannel(cfg.Dispatch.BuzzerURL, httpClient, logger),
		retryPolicy(cfg.Dispatch, dispatch.BuzzerRetryPolicy))
	dispatcher.Register(
		dispatch.NewSMSChannel(dispatch.SMSConfig{
			GatewayURL: cfg.Dispatch.SMSGatewayURL,
			APIKey:     cfg.Dispatch.SMSAPIKey,
			From:       cfg.Dispatch.SMSFrom,
		}, httpClient, logger),
		retryPolicy(cfg.Dispatch, dispatch.SMSRetryPolicy))

	defaultPolicy, err := cfg.Policy.Domain()
	if err != nil {
		return fmt.Errorf("invalid default alert policy: %w", err)
	}

	orchestrator := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Patients:      patients,
		Scores:        scores,
		Events:        events,
		Scorer:        scorer,
		Dispatcher:    dispatcher,
		Mirror:        mirror,
		Escalations:   escalations,
		Metrics:       pipelineMetrics,
		DefaultPolicy: defaultPolicy,
		MailboxSize:   cfg.Pipeline.MailboxSize,
		Logger:        logger,
		Clock:         types.RealClock{},
	})

	server := api.NewServer(api.ServerConfig{
		Pipeline: orchestrator,
		Scores:   scores,
		Events:   events,
		Profiles: patients,
		Outcomes: outcomes,
		Probes: []api.HealthProbe{
			pgProbe{pool: pool},
			redisProbe{mirror: mirror},
		},
		Logger: logger,
		Clock:  types.RealClock{},
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.MQTT.Enabled {
		consumer := ingest.NewMQTTConsumer(cfg.MQTT, orchestrator, types.RealClock{}, logger)
		g.Go(func() error {
			if err := consumer.Start(gctx); err != nil {
				return fmt.Errorf("mqtt consumer: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			consumer.Stop()
			return nil
		})
	}

	// Drain the HTTP listener once shutdown begins.
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	runErr := g.Wait()

	// Transports are closed; let the pipeline finish its queued samples and
	// in-flight dispatches.
	drainCtx, cancel := context.WithTimeout(context.Background(), pipelineDrainTimeout)
	defer cancel()
	if err := orchestrator.Shutdown(drainCtx); err != nil {
		logger.Error("pipeline drain incomplete", "error", err.Error())
	}

	logger.Info("breathguard stopped")
	return runErr
}

// retryPolicy overlays the env-tunable dispatch settings onto a channel's
// default policy.
func retryPolicy(cfg config.DispatchConfig, base dispatch.RetryPolicy) dispatch.RetryPolicy {
	if cfg.MaxAttempts > 0 {
		base.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BackoffBase > 0 {
		base.BaseDelay = cfg.BackoffBase
	}
	if cfg.BackoffMax > 0 {
		base.MaxDelay = cfg.BackoffMax
	}
	return base
}

type pgProbe struct {
	pool *pgxpool.Pool
}

func (p pgProbe) Name() string                    { return "postgres" }
func (p pgProbe) Check(ctx context.Context) error { return p.pool.Ping(ctx) }

type redisProbe struct {
	mirror *livestate.Mirror
}

func (p redisProbe) Name() string                    { return "redis" }
func (p redisProbe) Check(ctx context.Context) error { return p.mirror.Ping(ctx) }
