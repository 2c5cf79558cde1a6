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

package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Storage: Storage{Backend: "fs", Path: "/var/lib/relgate"},
		Signing: Signing{
			PublicKey: hex.EncodeToString(make([]byte, ed25519.PublicKeySize)),
			Identity:  "release-bot@example.com",
			Issuer:    "https://issuer.example.com",
		},
		Deploy: Deploy{
			Target:         "vps-1",
			ApplyCommand:   []string{"deployctl", "apply", "{digest}"},
			CurrentCommand: []string{"deployctl", "current"},
			HealthURL:      "http://127.0.0.1:8080/healthz",
		},
		Stages: []StageConf{
			{Name: "sast", Type: "command", Mode: "blocking", Command: []string{"scanner"}},
			{Type: "signature", Mode: "blocking"},
			{Type: "deploy"},
		},
	}
}

func TestValidateOK(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown backend":      func(c *Config) { c.Storage.Backend = "ftp" },
		"fs without path":      func(c *Config) { c.Storage.Path = "" },
		"missing public key":   func(c *Config) { c.Signing.PublicKey = "" },
		"missing identity":     func(c *Config) { c.Signing.Identity = "" },
		"missing target":       func(c *Config) { c.Deploy.Target = "" },
		"missing health url":   func(c *Config) { c.Deploy.HealthURL = "" },
		"no stages":            func(c *Config) { c.Stages = nil },
		"unknown stage type":   func(c *Config) { c.Stages[0].Type = "magic" },
		"unknown stage mode":   func(c *Config) { c.Stages[0].Mode = "maybe" },
		"command without argv": func(c *Config) { c.Stages[0].Command = nil },
		"duplicate stage name": func(c *Config) { c.Stages[1].Name = "sast" },
		"two deploy stages": func(c *Config) {
			c.Stages = append(c.Stages, StageConf{Name: "deploy-2", Type: "deploy"})
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDecodeKeys(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	s := Signing{
		PublicKey:  hex.EncodeToString(pub),
		PrivateKey: hex.EncodeToString(priv),
	}

	gotPub, err := s.DecodePublicKey()
	require.NoError(t, err)
	assert.Equal(t, pub, gotPub)

	gotPriv, err := s.DecodePrivateKey()
	require.NoError(t, err)
	assert.Equal(t, priv, gotPriv)

	s.PublicKey = "zz"
	_, err = s.DecodePublicKey()
	assert.Error(t, err)

	s.PublicKey = "abcd"
	_, err = s.DecodePublicKey()
	assert.Error(t, err, "short key must be rejected")
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `
[log]
output = "stdout"
level = "INFO"

[storage]
backend = "fs"
path = "/var/lib/relgate"

[signing]
publicKey = "` + hex.EncodeToString(make([]byte, ed25519.PublicKeySize)) + `"
identity = "release-bot@example.com"
issuer = "https://issuer.example.com"

[deploy]
target = "vps-1"
applyCommand = ["deployctl", "apply", "{digest}"]
currentCommand = ["deployctl", "current"]
healthUrl = "http://127.0.0.1:8080/healthz"
probeInterval = "2s"

[[stages]]
name = "sast"
type = "command"
mode = "blocking"
command = ["scanner", "--strict"]
timeout = "5m"

[[stages]]
type = "signature"
mode = "blocking"

[[stages]]
type = "deploy"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "vps-1", cfg.Deploy.Target)
	assert.Equal(t, 2*time.Second, cfg.Deploy.ProbeInterval)
	require.Len(t, cfg.Stages, 3)
	assert.Equal(t, "sast", cfg.Stages[0].StageName())
	assert.Equal(t, 5*time.Minute, cfg.Stages[0].Timeout)
	assert.Equal(t, "signature", cfg.Stages[1].StageName())
}

func TestLoadMissingDir(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
