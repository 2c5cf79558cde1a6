// Package channel implements the delivery channels for pipeline reports.
package channel

import (
	"context"

	"github.com/relgate/relgate/internal/notify"
)

// Channel delivers a report to one destination.
type Channel interface {
	// Name returns the channel name used for registration and logging.
	Name() string

	// Send delivers the report.
	Send(ctx context.Context, report *notify.Report) error

	// Validate checks the channel configuration.
	Validate() error
}
