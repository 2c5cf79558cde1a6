// Copyright 2025 Relgate Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package app assembles the orchestrator and its dependencies from
// configuration and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/relgate/relgate/internal/artifact"
	"github.com/relgate/relgate/internal/config"
	"github.com/relgate/relgate/internal/deploy"
	"github.com/relgate/relgate/internal/lock"
	"github.com/relgate/relgate/internal/notify"
	"github.com/relgate/relgate/internal/notify/channel"
	"github.com/relgate/relgate/internal/pipeline"
	"github.com/relgate/relgate/internal/signing"
	"github.com/relgate/relgate/internal/store"
	"github.com/relgate/relgate/pkg/log"
	"github.com/relgate/relgate/pkg/metrics"
)

// App is a fully wired release gate orchestrator.
type App struct {
	cfg          *config.Config
	logger       *log.Logger
	orchestrator *pipeline.Orchestrator

	metricsServer *metrics.Server
	redisClient   *redis.Client
	db            *gorm.DB
}

// New wires an App from configuration. The returned cleanup releases every
// resource the wiring opened and is safe to call once, after the last run.
func New(cfg *config.Config) (*App, func(), error) {
	logger, err := log.NewLogger(&cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("app: logger: %w", err)
	}

	a := &App{cfg: cfg, logger: logger}
	cleanup := func() { a.close() }

	refStore, err := newRefStore(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}

	signer, verifier, err := newSigning(cfg.Signing, refStore)
	if err != nil {
		return nil, nil, err
	}

	locker, err := a.newLocker()
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	deployer, err := newDeployer(cfg.Deploy, locker, verifier, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	builder := &pipeline.CommandBuilder{
		Store:      refStore,
		Signer:     signer,
		Logger:     logger,
		Command:    cfg.Build.Command,
		OutputPath: cfg.Build.OutputPath,
		SBOMPath:   cfg.Build.SBOMPath,
		Workdir:    cfg.Build.Workdir,
		Timeout:    cfg.Build.Timeout,
	}

	stages, err := buildStages(cfg, refStore, verifier, deployer, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	sink, err := newSink(cfg.Notify, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var opts []pipeline.OrchestratorOption
	if cfg.Metrics.Enable {
		collectors := metrics.NewPipelineCollectors()
		a.metricsServer = metrics.NewServer(cfg.Metrics)
		if err := collectors.Register(a.metricsServer); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("app: register collectors: %w", err)
		}
		if err := a.metricsServer.Start(); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("app: metrics server: %w", err)
		}
		opts = append(opts, pipeline.WithCollectors(collectors))
	}

	if cfg.Database.Enable {
		db, err := store.NewDatabase(cfg.Database.Database)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		a.db = db
		opts = append(opts, pipeline.WithRecorder(store.NewRunStore(db)))
	}

	orch, err := pipeline.NewOrchestrator(builder, stages, sink, refStore, logger, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	a.orchestrator = orch
	return a, cleanup, nil
}

// Run executes one pipeline run.
func (a *App) Run(ctx context.Context, source string) (*pipeline.Run, error) {
	return a.orchestrator.Run(ctx, source)
}

func (a *App) close() {
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metricsServer.Stop(ctx); err != nil {
			a.logger.Log.Warnw("metrics server shutdown", "err", err)
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Log.Warnw("redis close", "err", err)
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func newRefStore(cfg config.Storage) (artifact.RefStore, error) {
	switch cfg.Backend {
	case "", "fs":
		return artifact.NewFSStore(cfg.Path)
	case "minio":
		return artifact.NewMinioStore(cfg.Minio)
	default:
		return nil, fmt.Errorf("app: unknown storage backend %q", cfg.Backend)
	}
}

func newSigning(cfg config.Signing, refStore artifact.RefStore) (*signing.Signer, *signing.Verifier, error) {
	pub, err := cfg.DecodePublicKey()
	if err != nil {
		return nil, nil, err
	}
	priv, err := cfg.DecodePrivateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("app: a signing private key is required to build candidates: %w", err)
	}
	signer, err := signing.NewSigner(refStore, priv, cfg.Identity, cfg.Issuer)
	if err != nil {
		return nil, nil, err
	}
	verifier, err := signing.NewVerifier(refStore, pub, cfg.Identity, cfg.Issuer)
	if err != nil {
		return nil, nil, err
	}
	return signer, verifier, nil
}

func (a *App) newLocker() (lock.TargetLocker, error) {
	if !a.cfg.Redis.Enable {
		return lock.NewMemoryLocker(), nil
	}
	client, err := lock.NewRedisClient(a.cfg.Redis.ClientConfig())
	if err != nil {
		return nil, err
	}
	a.redisClient = client
	return lock.NewRedisLocker(client, a.cfg.Redis.Lease), nil
}

func newDeployer(cfg config.Deploy, locker lock.TargetLocker, verifier *signing.Verifier, logger *log.Logger) (*deploy.Deployer, error) {
	executor, err := deploy.NewCommandExecutor(deploy.CommandExecutorConfig{
		ApplyCommand:   cfg.ApplyCommand,
		CurrentCommand: cfg.CurrentCommand,
		Timeout:        cfg.CommandTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	probe, err := deploy.NewProbe(deploy.ProbeConfig{
		URL:             cfg.HealthURL,
		Interval:        cfg.ProbeInterval,
		Attempts:        cfg.ProbeAttempts,
		Timeout:         cfg.ProbeTimeout,
		ConfirmInterval: cfg.ConfirmInterval,
		ConfirmCount:    cfg.ConfirmCount,
	}, logger)
	if err != nil {
		return nil, err
	}
	verify := func(ctx context.Context, digest string) error {
		_, err := verifier.Verify(ctx, digest)
		return err
	}
	return deploy.NewDeployer(cfg.Target, executor, probe, locker, verify, logger)
}

func buildStages(cfg *config.Config, refStore artifact.RefStore, verifier *signing.Verifier, deployer *deploy.Deployer, logger *log.Logger) ([]pipeline.Stage, error) {
	stages := make([]pipeline.Stage, 0, len(cfg.Stages))
	for _, sc := range cfg.Stages {
		mode := pipeline.ModeBlocking
		if sc.Mode == "advisory" {
			mode = pipeline.ModeAdvisory
		}
		switch sc.Type {
		case "command":
			stages = append(stages, &pipeline.CommandStage{
				StageName:        sc.StageName(),
				GateMode:         mode,
				Command:          sc.Command,
				Workdir:          sc.Workdir,
				Timeout:          sc.Timeout,
				AdvisoryExitCode: sc.AdvisoryExitCode,
				ReportPath:       sc.ReportPath,
				Store:            refStore,
				Logger:           logger,
			})
		case "signature":
			stages = append(stages, &pipeline.SignatureStage{GateMode: mode, Verifier: verifier})
		case "deploy":
			stages = append(stages, &pipeline.DeployStage{Deployer: deployer})
		case "rate-limit":
			stages = append(stages, &pipeline.RateLimitStage{
				GateMode:    mode,
				URL:         sc.URL,
				RequestRate: sc.RequestRate,
				CeilingRate: sc.CeilingRate,
				Duration:    sc.Duration,
				Tolerance:   sc.Tolerance,
				Timeout:     sc.Timeout,
				Logger:      logger,
			})
		default:
			return nil, fmt.Errorf("app: unknown stage type %q", sc.Type)
		}
	}
	return stages, nil
}

func newSink(cfg config.Notify, logger *log.Logger) (pipeline.Sink, error) {
	manager := notify.NewManager(logger)
	for _, d := range cfg.Discord {
		if err := manager.Register(channel.NewDiscordChannel(d.Name, d.WebhookURL, d.Username)); err != nil {
			return nil, err
		}
	}
	for _, w := range cfg.Webhooks {
		if err := manager.Register(channel.NewWebhookChannel(w.Name, w.URL, w.Token)); err != nil {
			return nil, err
		}
	}
	return manager, nil
}
