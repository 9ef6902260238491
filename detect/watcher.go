package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ecostyle/scout/detect/candidate"
	"github.com/ecostyle/scout/detect/internal/browser"
	"github.com/ecostyle/scout/detect/internal/config"
	"github.com/ecostyle/scout/detect/internal/observer"
	"github.com/ecostyle/scout/detect/internal/sink"
	"github.com/ecostyle/scout/idgen"
	"github.com/ecostyle/scout/msgbus"
)

// Watcher is the top-level orchestrator. It manages the browser, wires one
// frame detector per browsing context of each watched page, routes probe
// signals into the detectors, and fans detection announcements out to sinks.
type Watcher struct {
	cfg     *config.Config
	mgr     *browser.Manager
	bus     *msgbus.Bus
	sinkR   *sink.Router
	stealth browser.StealthLevel
	pages   map[string]*pageWatch
	mu      sync.Mutex
	logger  *slog.Logger
	ids     idgen.Generator

	// runCtx bounds the lifetime of page watches. Set by Start; page watches
	// must not inherit the caller's (often request-scoped) context or they
	// die the moment the opening call returns.
	runCtx context.Context
}

type pageWatch struct {
	tab    *browser.Tab
	frames []*frameWatch
	cancel context.CancelFunc
}

type frameWatch struct {
	det *FrameDetector
	obs *observer.Observer
}

// NewWatcher creates a Watcher from configuration. The bus must carry a
// registered FETCH_IMAGE_AS_DATA_URL responder for captures to return bytes.
func NewWatcher(cfg *config.Config, bus *msgbus.Bus, logger *slog.Logger, sinks ...sink.Sink) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	stealthLevel := browser.LevelHeadless
	switch cfg.Browser.Stealth {
	case "headful":
		stealthLevel = browser.LevelHeadful
	case "headless":
		stealthLevel = browser.LevelHeadless
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Stealth:          stealthLevel,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})

	w := &Watcher{
		cfg:     cfg,
		mgr:     mgr,
		bus:     bus,
		sinkR:   sink.NewRouter(logger, sinks...),
		stealth: stealthLevel,
		pages:   make(map[string]*pageWatch),
		logger:  logger,
		ids:     idgen.Default,
	}

	// Announcements from any frame flow to the sinks.
	bus.Subscribe(msgbus.TypeProductImageDetected, w.onDetected)
	bus.Handle(msgbus.TypeCaptureProductImage, w.handleCaptureRequest)

	return w
}

// Start launches the browser. ctx bounds the watcher's whole run: every
// page watch opened later lives under it, not under the opening caller's
// context.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	w.runCtx = ctx
	w.mu.Unlock()

	if _, err := w.mgr.Start(ctx); err != nil {
		return fmt.Errorf("detect: start browser: %w", err)
	}
	return nil
}

// pageContext is the parent context for page watches.
func (w *Watcher) pageContext() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.runCtx != nil {
		return w.runCtx
	}
	return context.Background()
}

// Stop shuts down all page watches, the sinks and the browser.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, pw := range w.pages {
		w.closePageLocked(pw)
		w.logger.Info("detect: stopped watching page", "id", id)
	}
	w.pages = make(map[string]*pageWatch)

	w.sinkR.Close()
	w.mgr.Close()
}

// Observe opens a page and starts persistent detection on every reachable
// frame. The page stays open until Release or Stop.
func (w *Watcher) Observe(ctx context.Context, pageURL string) (string, error) {
	pageID := w.ids()

	pw, err := w.openPage(ctx, pageURL, pageID)
	if err != nil {
		return "", err
	}

	w.mu.Lock()
	w.pages[pageID] = pw
	w.mu.Unlock()

	w.logger.Info("detect: watching page",
		"url", pageURL, "id", pageID, "frames", len(pw.frames))
	return pageID, nil
}

// Release stops detection on a watched page and closes its tab.
func (w *Watcher) Release(pageID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pw, ok := w.pages[pageID]
	if !ok {
		return
	}
	delete(w.pages, pageID)
	w.closePageLocked(pw)
}

// CaptureURL opens the page, runs detection across all frames, captures the
// main product image from the top frame and closes the tab. One-shot.
func (w *Watcher) CaptureURL(ctx context.Context, pageURL string) (candidate.CaptureResult, error) {
	pw, err := w.openPage(ctx, pageURL, w.ids())
	if err != nil {
		return candidate.CaptureResult{}, err
	}
	defer func() {
		w.mu.Lock()
		w.closePageLocked(pw)
		w.mu.Unlock()
	}()

	dets := make([]*FrameDetector, 0, len(pw.frames))
	for _, fw := range pw.frames {
		dets = append(dets, fw.det)
	}
	return captureFromAll(ctx, dets)
}

// CapturePage captures from an already-watched page.
func (w *Watcher) CapturePage(ctx context.Context, pageID string) (candidate.CaptureResult, error) {
	w.mu.Lock()
	pw, ok := w.pages[pageID]
	w.mu.Unlock()
	if !ok {
		return candidate.CaptureResult{}, fmt.Errorf("detect: unknown page %q", pageID)
	}

	dets := make([]*FrameDetector, 0, len(pw.frames))
	for _, fw := range pw.frames {
		dets = append(dets, fw.det)
	}
	return captureFromAll(ctx, dets)
}

// openPage opens a tab, enumerates frames and starts a detector plus
// observer for each. ctx covers only the open/navigate phase; the watch
// itself runs under the watcher's lifetime so it survives the caller.
func (w *Watcher) openPage(ctx context.Context, pageURL, pageID string) (*pageWatch, error) {
	tab, err := browser.OpenTab(ctx, w.mgr, pageURL, pageID, w.stealth)
	if err != nil {
		return nil, fmt.Errorf("detect: open tab: %w", err)
	}

	pageCtx, cancel := context.WithCancel(w.pageContext())
	pw := &pageWatch{tab: tab, cancel: cancel}

	for _, fr := range tab.Frames(ctx) {
		frame := FrameChild
		if fr.Top {
			frame = FrameTop
		}

		det := NewFrameDetector(DetectorConfig{
			Frame:            frame,
			Bus:              w.bus,
			MutationDebounce: w.cfg.Detect.MutationDebounce,
			Logger:           w.logger,
		})

		obs := observer.New(observer.Config{
			Page:     fr.Page,
			OnSignal: signalAdapter(det.Events()),
			Logger:   w.logger,
		})
		obs.SetContext(pageCtx)
		det.cfg.Source = obs

		go det.Run(pageCtx)
		if err := obs.Start(); err != nil {
			w.logger.Warn("detect: observer start failed",
				"url", fr.URL, "top", fr.Top, "error", err)
			continue
		}

		pw.frames = append(pw.frames, &frameWatch{det: det, obs: obs})
	}

	if len(pw.frames) == 0 {
		cancel()
		tab.Close()
		return nil, fmt.Errorf("detect: no observable frames at %s", pageURL)
	}
	return pw, nil
}

func (w *Watcher) closePageLocked(pw *pageWatch) {
	for _, fw := range pw.frames {
		fw.obs.Stop()
	}
	pw.cancel()
	pw.tab.Close()
}

// signalAdapter converts probe signals into orchestrator events, dropping
// on a full buffer rather than blocking the CDP event goroutine.
func signalAdapter(events chan<- Event) observer.SignalFunc {
	return func(sig observer.Signal) {
		var ev Event
		switch sig.Kind {
		case observer.KindInit:
			ev = Event{Kind: EventInit, Origin: OriginInit}
		case observer.KindDOMContentLoaded:
			ev = Event{Kind: EventInit, Origin: OriginDOMContentLoaded}
		case observer.KindMutation:
			ev = Event{Kind: EventMutation}
		case observer.KindClick:
			ev = Event{
				Kind:     EventClick,
				Click:    sig.Record,
				FrameURL: sig.FrameURL,
				Viewport: sig.Viewport,
			}
		default:
			return
		}

		select {
		case events <- ev:
		default:
		}
	}
}

// captureFromAll fans a capture request out to every frame detector and
// returns the single answer. Child frames decline with ErrNotTopFrame, so
// exactly one detector responds: the top frame's.
func captureFromAll(ctx context.Context, dets []*FrameDetector) (candidate.CaptureResult, error) {
	for _, det := range dets {
		res, err := det.Capture(ctx)
		if err == ErrNotTopFrame {
			continue
		}
		if err != nil {
			return candidate.CaptureResult{}, err
		}
		return res, nil
	}
	return candidate.CaptureResult{}, fmt.Errorf("detect: no top frame answered the capture")
}

// onDetected converts bus announcements into sink detections.
func (w *Watcher) onDetected(ctx context.Context, payload json.RawMessage) {
	notice, err := msgbus.DecodeDetectedNotice(payload)
	if err != nil {
		w.logger.Warn("detect: bad detection notice", "error", err)
		return
	}

	det := candidate.Detection{
		ID:            w.ids(),
		ImageURL:      notice.ImageURL,
		Frame:         notice.Frame,
		Origin:        notice.Origin,
		NaturalWidth:  notice.NaturalWidth,
		NaturalHeight: notice.NaturalHeight,
		Timestamp:     time.Now().UnixMilli(),
	}
	if err := w.sinkR.Send(ctx, det); err != nil {
		w.logger.Warn("detect: sink delivery failed", "error", err)
	}
}

// handleCaptureRequest is the bus responder for CAPTURE_PRODUCT_IMAGE.
func (w *Watcher) handleCaptureRequest(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	req, err := msgbus.DecodeCaptureRequest(payload)
	if err != nil {
		return nil, err
	}

	res, err := w.CaptureURL(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}
