package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/evaluator"
	"github.com/fyrsmithlabs/ragd/internal/history"
	httpserver "github.com/fyrsmithlabs/ragd/internal/http"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/metadata"
	"github.com/fyrsmithlabs/ragd/internal/pii"
	"github.com/fyrsmithlabs/ragd/internal/qdrant"
	"github.com/fyrsmithlabs/ragd/internal/querier"
	"github.com/fyrsmithlabs/ragd/internal/reranker"
	"github.com/fyrsmithlabs/ragd/internal/secrets"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// app owns everything with a lifetime.
type app struct {
	server    *httpserver.Server
	backend   qdrant.Client
	embedders *embeddings.Registry
	allowlist *secrets.Reloader
	history   *history.Store
	runs      *telemetry.RunRecorder
	logger    *logging.Logger
}

func buildApp(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, logger *logging.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			_ = a.shutdown(context.Background())
		}
	}()

	backend, err := newBackend(cfg.Qdrant, logger)
	if err != nil {
		return nil, err
	}
	a.backend = backend

	meta := metadata.NewClient(cfg.Metadata, logger.Named("metadata"))

	embedders, err := embeddings.NewRegistry(cfg.Embeddings, logger)
	if err != nil {
		return nil, fmt.Errorf("building embedding models: %w", err)
	}
	a.embedders = embedders
	models, err := llm.NewRegistry(cfg.Models, logger)
	if err != nil {
		return nil, fmt.Errorf("building inference models: %w", err)
	}

	factory := vectorstore.NewFactory(a.backend, meta, embedders, logger)

	gate, allowlist, err := newGate(ctx, cfg.Ingestion, logger)
	a.allowlist = allowlist
	if err != nil {
		return nil, err
	}
	indexer, err := ingest.NewIndexer(gate, factory, meta, models, logger,
		ingest.WithRequestTimeout(cfg.Ingestion.RequestTimeout.Duration()))
	if err != nil {
		return nil, fmt.Errorf("building indexer: %w", err)
	}

	a.history, err = history.Open(ctx, cfg.History.Path, logger)
	if err != nil {
		return nil, err
	}

	a.runs, err = telemetry.NewRunRecorder(cfg.Runs, logger)
	if err != nil {
		return nil, err
	}

	q, err := querier.New(factory, models, reranker.NewRegistry(models), logger)
	if err != nil {
		return nil, fmt.Errorf("building querier: %w", err)
	}
	direct, err := querier.NewDirect(a.history, models)
	if err != nil {
		return nil, fmt.Errorf("building direct completer: %w", err)
	}

	orchestrator, err := chat.NewOrchestrator(chat.Dependencies{
		Querier:   q,
		Direct:    direct,
		Evaluator: evaluator.New(models),
		History:   a.history,
		Runs:      a.runs,
		Collections: chat.CollectionsFunc(func(id int64) chat.Collection {
			return factory.ForChunks(id)
		}),
	}, cfg.Chat, logger)
	if err != nil {
		return nil, fmt.Errorf("building orchestrator: %w", err)
	}

	a.server, err = httpserver.NewServer(httpserver.Dependencies{
		Chat:        orchestrator,
		Sessions:    meta,
		Indexer:     indexer,
		Collections: factory,
		Health:      tel,
		Version:     version,
	}, cfg.Server, logger)
	if err != nil {
		return nil, fmt.Errorf("building http server: %w", err)
	}
	return a, nil
}

func newBackend(cfg config.QdrantConfig, logger *logging.Logger) (*qdrant.GRPCClient, error) {
	distance, err := qdrant.ParseDistance(cfg.Distance)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewGRPCClient(&qdrant.ClientConfig{
		Host:           cfg.Host,
		Port:           cfg.Port,
		UseTLS:         cfg.UseTLS,
		APIKey:         cfg.APIKey.Value(),
		RequestTimeout: cfg.RequestTimeout.Duration(),
		RetryAttempts:  cfg.RetryAttempts,
		Distance:       distance,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}
	return client, nil
}

// newGate combines the regexp rules with gitleaks when enabled. Both share
// the allowlist, which is reloaded on change when a path is configured.
func newGate(ctx context.Context, cfg config.IngestionConfig, logger *logging.Logger) (*ingest.Gate, *secrets.Reloader, error) {
	build := func(allowlist *secrets.Allowlist) (secrets.Detector, error) {
		rules, err := secrets.NewRuleDetector(secrets.DefaultRules(), allowlist)
		if err != nil {
			return nil, err
		}
		if !cfg.Gitleaks {
			return rules, nil
		}
		gl, err := secrets.NewGitleaksDetector(allowlist)
		if err != nil {
			return nil, err
		}
		return secrets.Multi(rules, gl), nil
	}

	var (
		detector secrets.Detector
		reloader *secrets.Reloader
		err      error
	)
	if cfg.SecretsAllowlist == "" {
		detector, err = build(&secrets.Allowlist{})
	} else {
		reloader, err = secrets.NewReloader(cfg.SecretsAllowlist, build, logger)
		detector = reloader
	}
	if err != nil {
		return nil, nil, err
	}
	if reloader != nil {
		if err := reloader.Start(ctx); err != nil {
			logger.Warn(ctx, "secrets allowlist will not be reloaded", zap.Error(err))
		}
	}

	anonymizer, err := pii.NewRegexAnonymizer(pii.DefaultEntities())
	if err != nil {
		return nil, reloader, err
	}
	gate, err := ingest.NewGate(detector, anonymizer, cfg, logger)
	return gate, reloader, err
}

// shutdown tolerates a partially built app.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if a.runs != nil {
		if err := a.runs.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("run recorder: %w", err))
		}
	}
	if a.allowlist != nil {
		a.allowlist.Stop()
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history store: %w", err))
		}
	}
	if a.embedders != nil {
		if err := a.embedders.Close(); err != nil {
			errs = append(errs, fmt.Errorf("embedding models: %w", err))
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("qdrant: %w", err))
		}
	}
	if len(errs) > 0 {
		a.logger.Debug(ctx, "shutdown errors", zap.Int("count", len(errs)))
	}
	return errors.Join(errs...)
}
