// Package sink defines output backends for detection announcements.
package sink

import (
	"context"

	"github.com/ecostyle/scout/detect/candidate"
)

// Sink is the output interface. Implementations deliver detections to
// different backends (stdout, webhook, in-process callback).
type Sink interface {
	Send(ctx context.Context, det candidate.Detection) error
	Close() error
}
