package sink

import (
	"context"

	"github.com/ecostyle/scout/detect/candidate"
)

// DetectionFunc is called for each detection (in-process, zero serialisation).
type DetectionFunc func(ctx context.Context, det candidate.Detection) error

// Callback delivers detections via Go function calls. Used when the consumer
// lives in the same binary, such as the HTTP API streaming recent detections.
type Callback struct {
	onDetection DetectionFunc
}

// NewCallback creates a Callback sink. The handler may be nil.
func NewCallback(onDetection DetectionFunc) *Callback {
	return &Callback{onDetection: onDetection}
}

func (c *Callback) Send(ctx context.Context, det candidate.Detection) error {
	if c.onDetection != nil {
		return c.onDetection(ctx, det)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
