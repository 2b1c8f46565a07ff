package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/startino/reletino/internal/ingest"
	"github.com/startino/reletino/internal/optimizer"
	"github.com/startino/reletino/internal/pipeline"
	"github.com/startino/reletino/internal/profile"
	"github.com/startino/reletino/internal/store"
	anthropicpkg "github.com/startino/reletino/pkg/anthropic"
	"github.com/startino/reletino/pkg/critino"
	"github.com/startino/reletino/pkg/reddit"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "reletino.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// env bundles everything a command needs to run the pipeline or optimizer.
type env struct {
	store      store.Store
	profile    *profile.Profile
	pipeline   *pipeline.Pipeline
	classifier *pipeline.Classifier
	anthropic  anthropicpkg.Client
}

func (e *env) Close() {
	e.store.Close() //nolint:errcheck
}

// initEnv opens the store, runs migrations, and wires the pipeline.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}

	prof, err := profile.Load(cfg.Profile.Path)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	redditClient := reddit.NewClient(
		cfg.Reddit.ClientID,
		cfg.Reddit.ClientSecret,
		cfg.Reddit.UserAgent,
		reddit.WithBaseURL(cfg.Reddit.BaseURL),
		reddit.WithAuthURL(cfg.Reddit.AuthURL),
		reddit.WithRateLimit(cfg.Reddit.RatePerSec),
	)
	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	var critic critino.Client
	if cfg.Critino.BaseURL != "" && cfg.Critino.Key != "" {
		critic = critino.NewClient(
			cfg.Critino.BaseURL,
			cfg.Critino.Key,
			critino.WithTeam(cfg.Critino.Team),
			critino.WithEnvironment(cfg.Critino.Environment),
		)
	}

	ing := ingest.New(redditClient, st, ingest.Config{
		Communities: prof.Communities,
		PageLimit:   cfg.Reddit.PageLimit,
		MaxPages:    cfg.Reddit.MaxPages,
	})
	summarizer := pipeline.NewSummarizer(anthropicClient, cfg.Anthropic.SummarizeModel, cfg.Pipeline.SummarizeFloor)
	classifier := pipeline.NewClassifier(anthropicClient, cfg.Anthropic.ClassifyModel,
		cfg.Pipeline.ClassifyAttempts, time.Duration(cfg.Pipeline.ClassifyRetryDelay)*time.Second)

	return &env{
		store:      st,
		profile:    prof,
		classifier: classifier,
		anthropic:  anthropicClient,
		pipeline:   pipeline.New(ing, summarizer, classifier, st, critic, prof, cfg.Pipeline.Workers),
	}, nil
}

func (e *env) optimizer() *optimizer.Optimizer {
	return optimizer.New(e.store, e.classifier, e.anthropic, cfg.Anthropic.RewriteModel, e.profile, optimizer.Config{
		SampleSize:       cfg.Optimizer.SampleSize,
		RequiredAccuracy: cfg.Optimizer.RequiredAccuracy,
		MaxIterations:    cfg.Optimizer.MaxIterations,
		FixedOrder:       cfg.Optimizer.FixedOrder,
	})
}
