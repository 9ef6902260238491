package detect

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ecostyle/scout/detect/candidate"
	"github.com/ecostyle/scout/msgbus"
)

// Frame labels. The detector runs in every frame of a page, but only the
// top-level frame answers capture requests.
const (
	FrameTop   = "top"
	FrameChild = "child"
)

// Trigger origins carried on announcements.
const (
	OriginInit             = "init"
	OriginDOMContentLoaded = "domcontentloaded"
	OriginMutation         = "mutation"
	OriginClick            = "click"
	OriginMessage          = "message"
)

// ErrNotTopFrame is the silent decline of a capture request by a child
// frame. Callers fan capture out to all frames and drop these.
var ErrNotTopFrame = errors.New("detect: capture declined: not the top frame")

// NoCandidateError reports that a full scan (DOM and metadata fallback)
// produced nothing. This is an expected outcome, not a failure.
const NoCandidateError = "no-image-found"

// EventKind is the trigger type feeding the orchestrator.
type EventKind int

const (
	EventInit EventKind = iota
	EventMutation
	EventClick
)

// Event is one trigger. Mutation events carry no data: any subtree change
// schedules a debounced rescan. Click events carry the clicked element's raw
// record plus the geometry needed to score it directly.
type Event struct {
	Kind     EventKind
	Origin   string // init vs domcontentloaded, for EventInit
	Click    *candidate.ImageRecord
	FrameURL string
	Viewport candidate.Viewport
}

// Source produces fresh snapshots of a frame. Implemented by the rod-backed
// observer and by test doubles.
type Source interface {
	Snapshot(ctx context.Context) (candidate.Snapshot, error)
	Metadata(ctx context.Context) (candidate.Metadata, error)
}

// DetectorConfig configures a FrameDetector.
type DetectorConfig struct {
	Frame            string // FrameTop or FrameChild
	Source           Source
	Bus              *msgbus.Bus // byte fetch + detection notices; may be nil
	MutationDebounce time.Duration
	Logger           *slog.Logger
}

// FrameDetector is the per-frame orchestrator. It owns the frame's
// detection state (current and last-clicked candidate); nothing else reads
// or writes that state — external consumers only ever see candidate data in
// message responses and notices. All state transitions happen on the Run
// loop goroutine, mirroring the single-threaded frame context it models.
type FrameDetector struct {
	cfg      DetectorConfig
	events   chan Event
	captures chan captureReq
	currents chan chan *candidate.Candidate
	debounce *rescanDebounce
	logger   *slog.Logger

	current     *candidate.Candidate
	lastClicked *candidate.Candidate
}

type captureReq struct {
	ctx   context.Context
	reply chan candidate.CaptureResult
}

// NewFrameDetector creates a detector for one frame.
func NewFrameDetector(cfg DetectorConfig) *FrameDetector {
	if cfg.Frame == "" {
		cfg.Frame = FrameTop
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FrameDetector{
		cfg:      cfg,
		events:   make(chan Event, 256),
		captures: make(chan captureReq),
		currents: make(chan chan *candidate.Candidate),
		debounce: newRescanDebounce(cfg.MutationDebounce),
		logger:   cfg.Logger.With("frame", cfg.Frame),
	}
}

// Events returns the channel observers push triggers into.
func (d *FrameDetector) Events() chan<- Event {
	return d.events
}

// Run processes triggers until the context is cancelled. State is touched
// only here.
func (d *FrameDetector) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.debounce.Cancel()
			return

		case ev := <-d.events:
			switch ev.Kind {
			case EventInit:
				d.handleInit(ctx, ev)
			case EventMutation:
				d.debounce.Bump()
			case EventClick:
				d.handleClick(ctx, ev)
			}

		case <-d.debounce.C():
			d.debounce.Cancel()
			d.handleMutationScan(ctx)

		case req := <-d.captures:
			d.handleCapture(req)

		case reply := <-d.currents:
			if d.current == nil {
				reply <- nil
			} else {
				c := *d.current
				reply <- &c
			}
		}
	}
}

// Current returns a copy of the frame's current candidate, or nil. It goes
// through the Run loop so there is no concurrent state access.
func (d *FrameDetector) Current(ctx context.Context) *candidate.Candidate {
	reply := make(chan *candidate.Candidate, 1)
	select {
	case d.currents <- reply:
	case <-ctx.Done():
		return nil
	}
	select {
	case c := <-reply:
		return c
	case <-ctx.Done():
		return nil
	}
}

// Capture runs a fresh detection and resolves the image bytes through the
// background fetch service. Child frames decline with ErrNotTopFrame so a
// page-wide capture produces exactly one response, from the top frame.
func (d *FrameDetector) Capture(ctx context.Context) (candidate.CaptureResult, error) {
	if d.cfg.Frame != FrameTop {
		return candidate.CaptureResult{}, ErrNotTopFrame
	}

	req := captureReq{ctx: ctx, reply: make(chan candidate.CaptureResult, 1)}
	select {
	case d.captures <- req:
	case <-ctx.Done():
		return candidate.CaptureResult{}, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res, nil
	case <-ctx.Done():
		return candidate.CaptureResult{}, ctx.Err()
	}
}

func (d *FrameDetector) handleInit(ctx context.Context, ev Event) {
	origin := ev.Origin
	if origin == "" {
		origin = OriginInit
	}
	if best := d.detect(ctx, origin); best != nil {
		d.setCurrent(ctx, *best, origin)
	}
}

func (d *FrameDetector) handleMutationScan(ctx context.Context) {
	best := d.detect(ctx, OriginMutation)
	if best == nil {
		return
	}
	// Layout-only reflows re-detect the same image; only a different URL is
	// worth re-announcing.
	if d.current != nil && best.URL == d.current.URL {
		return
	}
	d.setCurrent(ctx, *best, OriginMutation)
}

// handleClick scores the clicked element directly, bypassing the full-page
// scan. Explicit user intent has the highest precedence: it becomes current
// immediately and cancels any pending mutation rescan so a stale scan cannot
// overwrite the selection.
func (d *FrameDetector) handleClick(ctx context.Context, ev Event) {
	if ev.Click == nil {
		return
	}
	c, ok := clickCandidate(*ev.Click, ev.FrameURL, ev.Viewport)
	if !ok {
		return
	}

	d.debounce.Cancel()
	d.lastClicked = &c
	d.setCurrent(ctx, c, OriginClick)
}

func (d *FrameDetector) handleCapture(req captureReq) {
	best := d.detect(req.ctx, OriginMessage)
	if best == nil {
		req.reply <- candidate.CaptureResult{
			OK:    false,
			Error: NoCandidateError,
			Frame: d.cfg.Frame,
		}
		return
	}

	d.setCurrent(req.ctx, *best, OriginMessage)

	// The byte fetch can take up to the bus timeout; do it off the event
	// loop. The candidate is copied, so no state is shared with the loop.
	c := *best
	go func() {
		dataURL, err := d.fetchDataURL(req.ctx, c.URL)
		if err != nil {
			d.logger.Warn("detect: byte fetch failed, returning URL only",
				"url", c.URL, "error", err)
			req.reply <- candidate.CaptureResult{
				OK:       false,
				Error:    err.Error(),
				ImageURL: c.URL,
				Frame:    d.cfg.Frame,
			}
			return
		}
		req.reply <- candidate.CaptureResult{
			OK:            true,
			ImageURL:      c.URL,
			ImageDataURL:  dataURL,
			Reason:        c.Reason,
			Frame:         d.cfg.Frame,
			NaturalWidth:  c.NaturalWidth,
			NaturalHeight: c.NaturalHeight,
		}
	}()
}

// detect runs the full pipeline: scan, score, metadata fallback. A nil
// return means the frame has no qualifying image — an expected outcome.
func (d *FrameDetector) detect(ctx context.Context, origin string) *candidate.Candidate {
	snap, err := d.cfg.Source.Snapshot(ctx)
	if err != nil {
		d.logger.Warn("detect: snapshot failed", "origin", origin, "error", err)
		return nil
	}

	scored := Score(Scan(snap), snap.Viewport)
	if len(scored) > 0 {
		return &scored[0]
	}

	meta, err := d.cfg.Source.Metadata(ctx)
	if err != nil {
		d.logger.Debug("detect: metadata fetch failed", "origin", origin, "error", err)
		return nil
	}
	if c, ok := FromMetadata(meta); ok {
		return &c
	}

	d.logger.Debug("detect: no candidate", "origin", origin)
	return nil
}

func (d *FrameDetector) setCurrent(ctx context.Context, c candidate.Candidate, origin string) {
	d.current = &c
	d.logger.Info("detect: main image set",
		"origin", origin, "url", c.URL, "score", c.Score, "reason", c.Reason)

	if d.cfg.Bus != nil {
		d.cfg.Bus.Notify(ctx, msgbus.TypeProductImageDetected, msgbus.DetectedNotice{
			ImageURL:      c.URL,
			Frame:         d.cfg.Frame,
			Origin:        origin,
			NaturalWidth:  c.NaturalWidth,
			NaturalHeight: c.NaturalHeight,
		})
	}
}

// fetchDataURL asks the background fetch service for the image bytes. The
// bus enforces the request timeout; a failed fetch inside the service comes
// back as a typed OK=false response rather than a transport error.
func (d *FrameDetector) fetchDataURL(ctx context.Context, imageURL string) (string, error) {
	if d.cfg.Bus == nil {
		return "", errors.New("detect: no fetch service configured")
	}

	raw, err := d.cfg.Bus.Request(ctx, msgbus.TypeFetchImageAsDataURL,
		msgbus.FetchImageRequest{URL: imageURL})
	if err != nil {
		return "", err
	}

	resp, err := msgbus.DecodeFetchImageResponse(raw)
	if err != nil {
		return "", err
	}
	if !resp.OK {
		return "", errors.New(resp.Error)
	}
	return resp.DataURL, nil
}

// clickCandidate checks that a clicked element is currently visible and
// resolvable, then scores it on its own. Size and denylist filters are
// deliberately skipped: the user pointed at it.
func clickCandidate(rec candidate.ImageRecord, frameURL string, vp candidate.Viewport) (candidate.Candidate, bool) {
	if !visible(rec, vp) {
		return candidate.Candidate{}, false
	}

	u, ok := ResolveImageURL(rec, baseOf(frameURL))
	if !ok {
		return candidate.Candidate{}, false
	}

	c := candidate.Candidate{
		URL:           u,
		Rect:          rec.Rect,
		NaturalWidth:  rec.NaturalWidth,
		NaturalHeight: rec.NaturalHeight,
		Class:         rec.Class,
		InPicture:     rec.InPicture,
		ItempropImage: rec.ItempropImage,
	}
	scored := Score([]candidate.Candidate{c}, vp)
	c = scored[0]
	c.Reason = candidate.ReasonClick
	return c, true
}
