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

package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/relgate/relgate/pkg/log"
)

// RateLimitStage verifies, after deployment, that the live service still
// enforces its request ceiling: it drives traffic above the ceiling and
// checks that the accepted fraction does not exceed what the limiter should
// let through. A limiter that silently admits everything is a regression
// this gate exists to catch.
type RateLimitStage struct {
	GateMode GateMode
	// URL is the endpoint to load.
	URL string
	// RequestRate is the offered load in requests per second. Must exceed
	// CeilingRate for the verdict to mean anything.
	RequestRate int
	// CeilingRate is the limit the service is configured to enforce.
	CeilingRate int
	// Duration is how long to sustain the load.
	Duration time.Duration
	// Tolerance is the allowed deviation of the accepted fraction from
	// CeilingRate/RequestRate, as an absolute ratio. Defaults to 0.1.
	Tolerance float64
	Timeout   time.Duration
	Logger    *log.Logger

	client *resty.Client
	once   sync.Once
}

func (s *RateLimitStage) Name() string   { return "rate-limit-verify" }
func (s *RateLimitStage) Mode() GateMode { return s.GateMode }

// init builds a client that opens a fresh connection per request, so the
// limiter sees distinct requests rather than one pipelined stream.
func (s *RateLimitStage) init() {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s.client = resty.New().
		SetTimeout(timeout).
		SetTransport(&http.Transport{DisableKeepAlives: true})
}

func (s *RateLimitStage) Run(ctx context.Context, sc *StageContext) (*StageResult, error) {
	if s.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if s.RequestRate <= 0 || s.CeilingRate <= 0 || s.RequestRate <= s.CeilingRate {
		return nil, fmt.Errorf("offered rate %d must exceed ceiling %d", s.RequestRate, s.CeilingRate)
	}
	if s.Duration <= 0 {
		return nil, fmt.Errorf("duration is required")
	}
	s.once.Do(s.init)

	started := time.Now()
	accepted, limited, failed := s.generate(ctx)
	total := accepted + limited + failed

	res := &StageResult{
		Stage:      s.Name(),
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if total == 0 {
		return nil, fmt.Errorf("no requests issued")
	}

	ratio := float64(accepted) / float64(total)
	expected := float64(s.CeilingRate) / float64(s.RequestRate)
	tolerance := s.Tolerance
	if tolerance <= 0 {
		tolerance = 0.1
	}
	res.Diagnostics = fmt.Sprintf(
		"accepted=%d limited=%d errored=%d ratio=%.3f expected=%.3f tolerance=%.3f",
		accepted, limited, failed, ratio, expected, tolerance)
	s.Logger.Log.Infow("rate limit verification finished",
		"url", s.URL, "accepted", accepted, "limited", limited, "errored", failed,
		"ratio", ratio, "expected", expected)

	// Only the upper bound fails the gate: admitting more than the ceiling
	// means the limiter is not enforcing. A stricter-than-configured limiter
	// is logged but not a gate failure.
	if ratio > expected+tolerance {
		res.Outcome = OutcomeFailed
		return res, nil
	}
	if ratio < expected-tolerance {
		s.Logger.Log.Warnw("service admits less traffic than its configured ceiling",
			"url", s.URL, "ratio", ratio, "expected", expected)
	}
	res.Outcome = OutcomePassed
	return res, nil
}

// generate offers RequestRate requests per second for Duration and counts
// responses. Requests run asynchronously so a slow response never lowers
// the offered rate.
func (s *RateLimitStage) generate(ctx context.Context) (accepted, limited, failed int64) {
	interval := time.Second / time.Duration(s.RequestRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.Duration)
	defer deadline.Stop()

	var wg sync.WaitGroup
	var nAccepted, nLimited, nFailed atomic.Int64
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nAccepted.Load(), nLimited.Load(), nFailed.Load()
		case <-deadline.C:
			wg.Wait()
			return nAccepted.Load(), nLimited.Load(), nFailed.Load()
		case <-ticker.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp, err := s.client.R().SetContext(ctx).Get(s.URL)
				switch {
				case err != nil:
					nFailed.Add(1)
				case resp.StatusCode() == http.StatusTooManyRequests:
					nLimited.Add(1)
				case resp.StatusCode() >= 200 && resp.StatusCode() < 300:
					nAccepted.Add(1)
				default:
					nFailed.Add(1)
				}
			}()
		}
	}
}
