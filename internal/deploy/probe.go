package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/relgate/relgate/pkg/log"
	"github.com/relgate/relgate/pkg/retry"
)

// ErrHealthCheckTimeout means the attempt budget was exhausted without a
// single healthy response.
var ErrHealthCheckTimeout = errors.New("deploy: health check attempt budget exhausted")

// HealthChecker is what the deployer needs from a probe.
type HealthChecker interface {
	// WaitHealthy polls until the target is healthy or the attempt budget
	// or wall-clock timeout runs out.
	WaitHealthy(ctx context.Context) error

	// ConfirmStable re-checks health over a longer window after the first
	// success, guarding against targets that pass one probe and then tip
	// over.
	ConfirmStable(ctx context.Context) error
}

// ProbeConfig configures a health probe.
type ProbeConfig struct {
	URL             string
	Interval        time.Duration
	Attempts        int
	Timeout         time.Duration // wall-clock cap over all attempts
	ConfirmInterval time.Duration
	ConfirmCount    int
}

// Probe polls a GET health endpoint. A non-2xx status and a transport error
// are treated identically as unhealthy.
type Probe struct {
	cfg    ProbeConfig
	client *resty.Client
	logger *log.Logger
}

// NewProbe creates a probe with bounded polling. Missing values get
// defaults: 2s interval, 10 attempts, interval*attempts+30s wall clock,
// 5s confirm interval, 3 confirm checks.
func NewProbe(cfg ProbeConfig, logger *log.Logger) (*Probe, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("deploy: probe url is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval*time.Duration(cfg.Attempts) + 30*time.Second
	}
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = 5 * time.Second
	}
	if cfg.ConfirmCount <= 0 {
		cfg.ConfirmCount = 3
	}
	client := resty.New().SetTimeout(cfg.Interval)
	return &Probe{cfg: cfg, client: client, logger: logger}, nil
}

// Check performs a single health check.
func (p *Probe) Check(ctx context.Context) error {
	resp, err := p.client.R().SetContext(ctx).Get(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("deploy: health check %s: %w", p.cfg.URL, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("deploy: health check %s: status %d", p.cfg.URL, resp.StatusCode())
	}
	return nil
}

func (p *Probe) WaitHealthy(ctx context.Context) error {
	attempt := 0
	err := retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		if err := p.Check(ctx); err != nil {
			p.logger.Log.Debugw("health check failed",
				"url", p.cfg.URL,
				"attempt", attempt,
				"error", err,
			)
			return err
		}
		return nil
	},
		retry.WithMaxAttempts(p.cfg.Attempts),
		retry.WithBackoff(retry.Fixed(p.cfg.Interval)),
		retry.WithMaxElapsedTime(p.cfg.Timeout),
	)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrHealthCheckTimeout, err)
	}
	return nil
}

func (p *Probe) ConfirmStable(ctx context.Context) error {
	for i := 0; i < p.cfg.ConfirmCount; i++ {
		if i > 0 {
			timer := time.NewTimer(p.cfg.ConfirmInterval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
		if err := p.Check(ctx); err != nil {
			return fmt.Errorf("deploy: stability confirmation failed on check %d/%d: %w",
				i+1, p.cfg.ConfirmCount, err)
		}
	}
	return nil
}
