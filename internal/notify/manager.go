package notify

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/relgate/relgate/pkg/log"
)

// Sender delivers a report to one destination. It matches
// channel.Channel without importing it, keeping the dependency one-way.
type Sender interface {
	Name() string
	Send(ctx context.Context, report *Report) error
	Validate() error
}

// Manager fans a report out to every registered channel. Delivery is
// best-effort per channel: one failing channel does not stop the others,
// and all failures are reported together.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Sender
	logger   *log.Logger
}

// NewManager creates an empty notification manager.
func NewManager(logger *log.Logger) *Manager {
	return &Manager{
		channels: make(map[string]Sender),
		logger:   logger,
	}
}

// Register adds a channel. Registering a duplicate name is an error.
func (m *Manager) Register(ch Sender) error {
	if ch == nil {
		return fmt.Errorf("notify: channel cannot be nil")
	}
	if err := ch.Validate(); err != nil {
		return fmt.Errorf("notify: channel validation failed: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.channels[ch.Name()]; exists {
		return fmt.Errorf("notify: channel %s already registered", ch.Name())
	}
	m.channels[ch.Name()] = ch
	return nil
}

// Deliver sends the report to all channels concurrently.
func (m *Manager) Deliver(ctx context.Context, report *Report) error {
	m.mu.RLock()
	channels := make([]Sender, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.RUnlock()

	if len(channels) == 0 {
		m.logger.Log.Debugw("no notification channels configured", "run", report.RunID)
		return nil
	}

	var eg errgroup.Group
	for _, ch := range channels {
		ch := ch
		eg.Go(func() error {
			if err := ch.Send(ctx, report); err != nil {
				m.logger.Log.Errorw("notification delivery failed",
					"channel", ch.Name(),
					"run", report.RunID,
					"error", err,
				)
				return err
			}
			m.logger.Log.Infow("notification delivered",
				"channel", ch.Name(),
				"run", report.RunID,
			)
			return nil
		})
	}
	return eg.Wait()
}
