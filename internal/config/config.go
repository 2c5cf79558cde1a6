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

// Package config defines the config.toml schema and its validation.
package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/relgate/relgate/internal/artifact"
	"github.com/relgate/relgate/internal/lock"
	"github.com/relgate/relgate/internal/store"
	"github.com/relgate/relgate/pkg/conf"
	"github.com/relgate/relgate/pkg/log"
	"github.com/relgate/relgate/pkg/metrics"
)

// Config is the full relgate configuration.
type Config struct {
	Log      log.Conf       `mapstructure:"log"`
	Metrics  metrics.Config `mapstructure:"metrics"`
	Storage  Storage        `mapstructure:"storage"`
	Redis    Redis          `mapstructure:"redis"`
	Database Database       `mapstructure:"database"`
	Signing  Signing        `mapstructure:"signing"`
	Build    Build          `mapstructure:"build"`
	Deploy   Deploy         `mapstructure:"deploy"`
	Notify   Notify         `mapstructure:"notify"`
	Stages   []StageConf    `mapstructure:"stages"`
}

// Storage selects the artifact store backend.
type Storage struct {
	// Backend is "fs" or "minio".
	Backend string               `mapstructure:"backend"`
	Path    string               `mapstructure:"path"`
	Minio   artifact.MinioConfig `mapstructure:"minio"`
}

// Redis enables the distributed target lock. When disabled, targets are
// serialized within the process only.
type Redis struct {
	Enable   bool          `mapstructure:"enable"`
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Lease    time.Duration `mapstructure:"lease"`
}

func (r Redis) ClientConfig() lock.RedisConfig {
	return lock.RedisConfig{Address: r.Address, Password: r.Password, DB: r.DB}
}

// Database enables the run history store.
type Database struct {
	Enable         bool `mapstructure:"enable"`
	store.Database `mapstructure:",squash"`
}

// Signing holds the release signing key material, hex-encoded ed25519.
// PrivateKey may be empty on verify-only installations.
type Signing struct {
	PublicKey  string `mapstructure:"publicKey"`
	PrivateKey string `mapstructure:"privateKey"`
	Identity   string `mapstructure:"identity"`
	Issuer     string `mapstructure:"issuer"`
}

func (s Signing) DecodePublicKey() (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(s.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("config: signing public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("config: signing public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

func (s Signing) DecodePrivateKey() (ed25519.PrivateKey, error) {
	raw, err := hex.DecodeString(s.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("config: signing private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("config: signing private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}

// Build configures the build stage.
type Build struct {
	Command    []string      `mapstructure:"command"`
	OutputPath string        `mapstructure:"outputPath"`
	SBOMPath   string        `mapstructure:"sbomPath"`
	Workdir    string        `mapstructure:"workdir"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Deploy configures the deploy stage and its target.
type Deploy struct {
	Target         string        `mapstructure:"target"`
	ApplyCommand   []string      `mapstructure:"applyCommand"`
	CurrentCommand []string      `mapstructure:"currentCommand"`
	CommandTimeout time.Duration `mapstructure:"commandTimeout"`

	HealthURL       string        `mapstructure:"healthUrl"`
	ProbeInterval   time.Duration `mapstructure:"probeInterval"`
	ProbeAttempts   int           `mapstructure:"probeAttempts"`
	ProbeTimeout    time.Duration `mapstructure:"probeTimeout"`
	ConfirmInterval time.Duration `mapstructure:"confirmInterval"`
	ConfirmCount    int           `mapstructure:"confirmCount"`
}

// Notify lists the channels the run report is delivered to.
type Notify struct {
	Discord  []DiscordChannel `mapstructure:"discord"`
	Webhooks []WebhookChannel `mapstructure:"webhook"`
}

type DiscordChannel struct {
	Name       string `mapstructure:"name"`
	WebhookURL string `mapstructure:"webhookUrl"`
	Username   string `mapstructure:"username"`
}

type WebhookChannel struct {
	Name  string `mapstructure:"name"`
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// StageConf configures one gate. Type is "command", "signature", "deploy",
// or "rate-limit"; command stages carry the scanner invocation, the
// rate-limit stage its load parameters.
type StageConf struct {
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"`
	// Mode is "blocking" or "advisory". Deploy ignores it and is always
	// blocking.
	Mode string `mapstructure:"mode"`

	Command          []string      `mapstructure:"command"`
	Workdir          string        `mapstructure:"workdir"`
	Timeout          time.Duration `mapstructure:"timeout"`
	AdvisoryExitCode int           `mapstructure:"advisoryExitCode"`
	ReportPath       string        `mapstructure:"reportPath"`

	URL         string        `mapstructure:"url"`
	RequestRate int           `mapstructure:"requestRate"`
	CeilingRate int           `mapstructure:"ceilingRate"`
	Duration    time.Duration `mapstructure:"duration"`
	Tolerance   float64       `mapstructure:"tolerance"`
}

// Load reads config.toml from confDir and validates it.
func Load(confDir string) (*Config, error) {
	cfg := &Config{}
	if err := conf.LoadConfigFile(confDir, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "", "fs":
		if c.Storage.Path == "" {
			return fmt.Errorf("config: storage.path is required for the fs backend")
		}
	case "minio":
		if c.Storage.Minio.Bucket == "" {
			return fmt.Errorf("config: storage.minio.bucket is required")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	if c.Signing.PublicKey == "" {
		return fmt.Errorf("config: signing.publicKey is required")
	}
	if c.Signing.Identity == "" || c.Signing.Issuer == "" {
		return fmt.Errorf("config: signing.identity and signing.issuer are required")
	}

	if c.Deploy.Target == "" {
		return fmt.Errorf("config: deploy.target is required")
	}
	if len(c.Deploy.ApplyCommand) == 0 || len(c.Deploy.CurrentCommand) == 0 {
		return fmt.Errorf("config: deploy.applyCommand and deploy.currentCommand are required")
	}
	if c.Deploy.HealthURL == "" {
		return fmt.Errorf("config: deploy.healthUrl is required")
	}

	if len(c.Stages) == 0 {
		return fmt.Errorf("config: at least one stage is required")
	}
	seen := make(map[string]struct{}, len(c.Stages))
	deployStages := 0
	for i, s := range c.Stages {
		name := s.StageName()
		if _, dup := seen[name]; dup {
			return fmt.Errorf("config: duplicate stage %q", name)
		}
		seen[name] = struct{}{}
		switch s.Type {
		case "command":
			if len(s.Command) == 0 {
				return fmt.Errorf("config: stages[%d]: command is required", i)
			}
		case "signature":
		case "deploy":
			deployStages++
		case "rate-limit":
			if s.URL == "" {
				return fmt.Errorf("config: stages[%d]: url is required", i)
			}
		default:
			return fmt.Errorf("config: stages[%d]: unknown type %q", i, s.Type)
		}
		switch s.Mode {
		case "", "blocking", "advisory":
		default:
			return fmt.Errorf("config: stages[%d]: unknown mode %q", i, s.Mode)
		}
	}
	if deployStages > 1 {
		return fmt.Errorf("config: at most one deploy stage is allowed")
	}
	return nil
}

// StageName returns the configured name, defaulting to the stage type.
func (s StageConf) StageName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Type
}
