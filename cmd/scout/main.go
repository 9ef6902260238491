// Command scout is the product-image detection daemon.
//
// Usage:
//
//	scout -config scout.yaml               # serve the API from YAML config
//	scout -capture https://shop.example    # one-shot capture, JSON to stdout
//	scout -url https://shop.example        # watch a single page (stdout sink)
//	scout -static https://shop.example     # browserless detection over fetched HTML
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/ecostyle/scout/brandstore"
	"github.com/ecostyle/scout/detect"
	"github.com/ecostyle/scout/fetchsvc"
	"github.com/ecostyle/scout/msgbus"
	"github.com/ecostyle/scout/simsearch"
	"github.com/ecostyle/scout/staticscan"
)

func main() {
	configPath := flag.String("config", "", "path to scout.yaml config file")
	captureURL := flag.String("capture", "", "capture one URL and exit")
	watchURL := flag.String("url", "", "watch a single URL (stdout sink)")
	staticURL := flag.String("static", "", "detect over fetched HTML, no browser")
	listen := flag.String("listen", "", "API listen address (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *captureURL, *watchURL, *staticURL, *listen); err != nil {
		logger.Error("scout: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, captureURL, watchURL, staticURL, listen string) error {
	if staticURL != "" {
		return runStatic(ctx, staticURL)
	}

	cfg := detect.DefaultConfig()
	if configPath != "" {
		loaded, err := detect.LoadConfigFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if listen != "" {
		cfg.HTTP.Listen = listen
	}

	bus := msgbus.New(
		msgbus.WithTimeout(cfg.Fetch.Timeout),
		msgbus.WithLogger(logger),
	)

	fetchOpts := []fetchsvc.Option{
		fetchsvc.WithLogger(logger),
		fetchsvc.WithMaxBytes(cfg.Fetch.MaxBytes),
	}
	if cfg.Fetch.UserAgent != "" {
		fetchOpts = append(fetchOpts, fetchsvc.WithUserAgent(cfg.Fetch.UserAgent))
	}
	fetchsvc.New(fetchOpts...).Register(bus)

	recent := newRecentDetections(100)
	sinks := append(buildSinks(cfg, logger), detect.NewCallbackSink(recent.add))
	w := detect.NewWatcher(cfg, bus, logger, sinks...)

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer w.Stop()

	if captureURL != "" {
		res, err := w.CaptureURL(ctx, captureURL)
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		return printJSON(res)
	}

	if watchURL != "" {
		if _, err := w.Observe(ctx, watchURL); err != nil {
			return fmt.Errorf("observe: %w", err)
		}
		<-ctx.Done()
		return nil
	}

	srv, err := newServer(cfg, bus, w, recent, logger)
	if err != nil {
		return err
	}
	return srv.serve(ctx)
}

// runStatic is the browserless path: fetch the HTML, run the layoutless
// detection pass, print the best candidate.
func runStatic(ctx context.Context, pageURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return fmt.Errorf("static: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("static: fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("static: fetch %s: status %d", pageURL, resp.StatusCode)
	}

	c, ok, err := staticscan.Detect(resp.Body, pageURL)
	if err != nil {
		return err
	}
	if !ok {
		return printJSON(map[string]string{"error": "no-image-found"})
	}
	return printJSON(c)
}

func buildSinks(cfg *detect.Config, logger *slog.Logger) []detect.Sink {
	var sinks []detect.Sink
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, detect.NewStdoutSink(nil))
		case "webhook":
			sinks = append(sinks, detect.NewWebhookSink(sc.URL, logger))
		default:
			logger.Warn("scout: unknown sink type", "type", sc.Type)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, detect.NewStdoutSink(nil))
	}
	return sinks
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	os.Stdout.Write(data)
	io.WriteString(os.Stdout, "\n")
	return nil
}

// openBrands opens the brand database when configured; a missing path just
// disables the brand endpoints.
func openBrands(cfg *detect.Config, logger *slog.Logger) (*brandstore.Store, error) {
	if cfg.Brands.DBPath == "" {
		return nil, nil
	}
	return brandstore.Open(cfg.Brands.DBPath, brandstore.WithLogger(logger))
}

// newSimilar builds the similarity client when configured.
func newSimilar(cfg *detect.Config, logger *slog.Logger) *simsearch.Client {
	if cfg.Similar.Endpoint == "" {
		return nil
	}
	return simsearch.New(cfg.Similar.Endpoint,
		simsearch.WithLogger(logger),
		simsearch.WithHTTPClient(&http.Client{Timeout: cfg.Similar.Timeout}),
	)
}
