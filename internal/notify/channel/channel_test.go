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

package channel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relgate/relgate/internal/notify"
)

func sampleReport() *notify.Report {
	return &notify.Report{
		RunID:           "run-1",
		CandidateDigest: "sha256:abc",
		Status:          "succeeded-with-rollback",
		DeploymentState: "rolled-back",
		Stages: []notify.StageSummary{
			{Name: "sast", Outcome: "passed"},
			{Name: "deploy", Outcome: "advisory-failed", Diagnostics: "health check never succeeded"},
		},
		EvidenceRef: "run/run-1",
		FinishedAt:  time.Now(),
	}
}

func TestDiscordSend(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewDiscordChannel("ops", srv.URL, "relgate")
	require.NoError(t, ch.Send(context.Background(), sampleReport()))

	assert.Equal(t, "relgate", got["username"])
	embeds := got["embeds"].([]interface{})
	require.Len(t, embeds, 1)
	embed := embeds[0].(map[string]interface{})
	assert.Contains(t, embed["title"], "succeeded-with-rollback")
	fields := embed["fields"].([]interface{})
	// Two stages plus the deployment state field.
	assert.Len(t, fields, 3)
}

func TestDiscordServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewDiscordChannel("ops", srv.URL, "")
	err := ch.Send(context.Background(), sampleReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestDiscordValidate(t *testing.T) {
	assert.Error(t, NewDiscordChannel("ops", "", "").Validate())
	assert.NoError(t, NewDiscordChannel("ops", "https://discord.example/webhook", "").Validate())
}

func TestWebhookSend(t *testing.T) {
	var gotAuth string
	var got notify.Report
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("audit", srv.URL, "secret-token")
	require.NoError(t, ch.Send(context.Background(), sampleReport()))

	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "rolled-back", got.DeploymentState)
}

func TestWebhookValidate(t *testing.T) {
	assert.Error(t, NewWebhookChannel("audit", "", "").Validate())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	long := truncate("0123456789abcdef", 10)
	assert.Equal(t, "0123456789...", long)
}
