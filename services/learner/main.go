// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianLearn/pkg/logging"
	"github.com/AleutianAI/AleutianLearn/services/learner/backpressure"
	"github.com/AleutianAI/AleutianLearn/services/learner/breaker"
	"github.com/AleutianAI/AleutianLearn/services/learner/checkpoint"
	"github.com/AleutianAI/AleutianLearn/services/learner/config"
	"github.com/AleutianAI/AleutianLearn/services/learner/dataset"
	"github.com/AleutianAI/AleutianLearn/services/learner/engine"
	"github.com/AleutianAI/AleutianLearn/services/learner/extract"
	"github.com/AleutianAI/AleutianLearn/services/learner/handlers"
	"github.com/AleutianAI/AleutianLearn/services/learner/observability"
	"github.com/AleutianAI/AleutianLearn/services/learner/orchestrate"
	"github.com/AleutianAI/AleutianLearn/services/learner/routes"
	"github.com/AleutianAI/AleutianLearn/services/learner/scoring"
	"github.com/AleutianAI/AleutianLearn/services/learner/stores"
	"github.com/AleutianAI/AleutianLearn/services/learner/telemetry"
	"github.com/AleutianAI/AleutianLearn/services/llm"
)

// shutdownGrace bounds how long in-flight requests get on shutdown.
const shutdownGrace = 10 * time.Second

func main() {
	log0 := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("ALEUTIAN_LEARN_LOG_LEVEL")),
		LogDir:  os.Getenv("ALEUTIAN_LEARN_LOG_DIR"),
		Service: "learner",
	})
	defer log0.Close()
	logger := log0.Slog()
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("ALEUTIAN_LEARN_CONFIG"))
	if err != nil {
		log.Fatalf("FATAL: invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("FATAL: %v", err)
	}
	logger.Info("learner stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownMetrics, err := observability.Init(observability.Config{
		ServiceName:    "aleutian-learn",
		ServiceVersion: handlers.Version,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer shutdownMetrics(context.Background())

	metrics, err := observability.NewMetrics(otel.Meter("learner"))
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	// --- Stores ---
	vectorStore, err := stores.NewVectorStore(cfg.Stores.WeaviateURL)
	if err != nil {
		return fmt.Errorf("create vector store: %w", err)
	}
	if err := vectorStore.EnsureSchema(ctx); err != nil {
		logger.Warn("vector schema setup failed, continuing", slog.String("error", err.Error()))
	}

	relationalStore, err := stores.NewRelationalStore(ctx, cfg.Stores.PostgresDSN)
	if err != nil {
		return fmt.Errorf("create relational store: %w", err)
	}
	defer relationalStore.Close()

	spill, err := stores.NewSpillWriter(filepath.Join(cfg.StateDir, "spill"), logger)
	if err != nil {
		return fmt.Errorf("create spill writer: %w", err)
	}

	cache, err := badger.Open(badger.DefaultOptions(cfg.Stores.CacheDir).WithLogger(nil))
	if err != nil {
		return fmt.Errorf("open context cache: %w", err)
	}
	defer cache.Close()

	// --- LLM clients ---
	llmClient, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
	})
	if err != nil {
		return fmt.Errorf("create llm client: %w", err)
	}

	// --- Breakers ---
	breakerCfg := breaker.Config{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		RecoveryTimeout:  time.Duration(cfg.Circuit.RecoveryTimeoutSeconds) * time.Second,
	}
	vectorBreaker := breaker.New("vector", breakerCfg)
	relationalBreaker := breaker.New("relational", breakerCfg)
	for _, b := range []*breaker.Breaker{vectorBreaker, relationalBreaker} {
		name := b.Dependency()
		b.OnTransition(func(from, to breaker.State) {
			metrics.BreakerTransitionsTotal.Add(context.Background(), 1,
				metric.WithAttributes(
					attribute.String("breaker", name),
					attribute.String("to", to.String())))
		})
	}

	// --- Learning pipeline ---
	checkpoints, err := checkpoint.NewManager(filepath.Join(cfg.StateDir, "checkpoints"), logger)
	if err != nil {
		return fmt.Errorf("create checkpoint manager: %w", err)
	}
	reader := telemetry.NewReader(telemetry.ReaderConfig{
		Sources:            cfg.Telemetry.Sources,
		LockWait:           time.Duration(cfg.Telemetry.LockTimeoutSeconds) * time.Second,
		CheckpointInterval: cfg.Learning.CheckpointIntervalEvents,
	}, checkpoints, logger)

	weights := scoring.Weights{
		Outcome:     cfg.Scoring.Weights.Outcome,
		Feedback:    cfg.Scoring.Weights.Feedback,
		Reusability: cfg.Scoring.Weights.Reusability,
		Complexity:  cfg.Scoring.Weights.Complexity,
		Novelty:     cfg.Scoring.Weights.Novelty,
	}
	if err := weights.Validate(); err != nil {
		return fmt.Errorf("invalid scoring weights: %w", err)
	}
	scorer := scoring.NewScorer(weights, llmClient, vectorStore, logger)
	extractor := extract.NewExtractor(extract.Config{
		ConfidenceFloor: cfg.Scoring.ConfidenceFloor,
		MaxIterations:   cfg.Routing.MaxIterations,
	}, llmClient, logger)

	exporter, err := dataset.NewExporter(filepath.Join(cfg.StateDir, "dataset"), cfg.GC.ExportMaxBytes)
	if err != nil {
		return fmt.Errorf("create dataset exporter: %w", err)
	}
	gc := dataset.NewManager(dataset.Config{
		MaxAgeDays:        cfg.GC.MaxAgeDays,
		MinValueScore:     cfg.GC.MinValueScore,
		MaxSolutions:      cfg.GC.MaxSolutions,
		ExpirationEnabled: cfg.GC.ExpirationEnabled,
		PruningEnabled:    cfg.GC.PruningEnabled,
		DedupEnabled:      cfg.GC.DedupEnabled,
		OrphansEnabled:    cfg.GC.OrphansEnabled,
	}, relationalStore, vectorStore, metrics, logger)

	monitor := backpressure.NewMonitor(backpressure.Config{
		MaxLagSeconds: cfg.Backpressure.MaxLagSeconds,
		MaxQueueSize:  cfg.Backpressure.MaxQueueSize,
	})

	eng := engine.New(engine.Config{
		Interval:   time.Duration(cfg.Learning.IntervalSeconds) * time.Second,
		BatchSize:  cfg.Learning.BatchSize,
		GCInterval: time.Duration(cfg.GC.IntervalSeconds) * time.Second,
	}, engine.Deps{
		Reader:            reader,
		Scorer:            scorer,
		Extractor:         extractor,
		Embedder:          llmClient,
		Patterns:          vectorStore,
		Solutions:         relationalStore,
		Spill:             spill,
		Exporter:          exporter,
		GC:                gc,
		Monitor:           monitor,
		VectorBreaker:     vectorBreaker,
		RelationalBreaker: relationalBreaker,
		Metrics:           metrics,
		Logger:            logger,
	})

	watcher := engine.NewSourceWatcher(cfg.Telemetry.Dir, reader, logger)

	// --- Serving layers ---
	// The serving side writes its events into the same directory the
	// learning loop watches, which is what closes the feedback cycle.
	if err := os.MkdirAll(cfg.Telemetry.Dir, 0o755); err != nil {
		return fmt.Errorf("create telemetry dir: %w", err)
	}
	sink, err := telemetry.NewFileSink(filepath.Join(cfg.Telemetry.Dir, "orchestrator.ndjson"))
	if err != nil {
		return fmt.Errorf("create telemetry sink: %w", err)
	}
	defer sink.Close()

	knowledge := orchestrate.NewKnowledgeLayer(orchestrate.KnowledgeConfig{
		CacheTTL: time.Duration(cfg.Stores.CacheTTLSeconds) * time.Second,
	}, cache, llmClient, vectorStore, relationalStore, sink, logger)
	queryRouter := orchestrate.NewRouter(orchestrate.RouterConfig{
		ConfidenceThreshold: cfg.Routing.ConfidenceThreshold,
	}, knowledge, orchestrate.NewLLMExecutor(llmClient), nil, sink, logger)
	taskLoop := orchestrate.NewTaskLoop(orchestrate.TaskLoopConfig{
		MaxIterations: cfg.Routing.MaxIterations,
	}, queryRouter, sink, logger)

	// --- HTTP server ---
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	routes.SetupRoutes(router, routes.Deps{
		Engine: eng,
		Tasks:  taskLoop,
		Readiness: handlers.ReadinessDeps{
			Breakers: []*breaker.Breaker{vectorBreaker, relationalBreaker},
			Pingers: map[string]handlers.Pinger{
				"weaviate": vectorStore,
				"postgres": relationalStore,
			},
			SpillDir: filepath.Join(cfg.StateDir, "spill"),
		},
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// --- Supervision ---
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return eng.RunGC(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error {
		logger.Info("learner listening", slog.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
