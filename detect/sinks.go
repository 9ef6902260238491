package detect

import (
	"context"
	"io"
	"log/slog"

	"github.com/ecostyle/scout/detect/candidate"
	"github.com/ecostyle/scout/detect/internal/sink"
)

// Sink is the output interface for detection announcements.
type Sink = sink.Sink

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process callback sink, zero serialisation.
func NewCallbackSink(onDetection func(ctx context.Context, det candidate.Detection) error) Sink {
	return sink.NewCallback(onDetection)
}
