package detect

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ecostyle/scout/detect/candidate"
	"github.com/ecostyle/scout/msgbus"
)

// fakeSource is a mutable stand-in for the rod-backed observer.
type fakeSource struct {
	mu   sync.Mutex
	snap candidate.Snapshot
	meta candidate.Metadata
}

func (f *fakeSource) Snapshot(context.Context) (candidate.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, nil
}

func (f *fakeSource) Metadata(context.Context) (candidate.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meta, nil
}

func (f *fakeSource) setSnapshot(snap candidate.Snapshot) {
	f.mu.Lock()
	f.snap = snap
	f.mu.Unlock()
}

func startDetector(t *testing.T, cfg DetectorConfig) *FrameDetector {
	t.Helper()
	if cfg.MutationDebounce == 0 {
		cfg.MutationDebounce = 20 * time.Millisecond
	}
	d := NewFrameDetector(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)
	return d
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func countNotices(bus *msgbus.Bus) *atomic.Int32 {
	var n atomic.Int32
	bus.Subscribe(msgbus.TypeProductImageDetected,
		func(context.Context, json.RawMessage) { n.Add(1) })
	return &n
}

func TestDetector_InitAnnounces(t *testing.T) {
	src := &fakeSource{snap: snapWith(validRecord())}
	bus := msgbus.New()
	notices := countNotices(bus)

	d := startDetector(t, DetectorConfig{Source: src, Bus: bus})
	d.Events() <- Event{Kind: EventInit}

	waitFor(t, "initial detection", func() bool {
		return d.Current(context.Background()) != nil
	})

	cur := d.Current(context.Background())
	if cur.URL != "https://shop.example.com/images/dress-front.jpg" {
		t.Errorf("current URL: got %q", cur.URL)
	}
	if cur.Reason != candidate.ReasonScored {
		t.Errorf("current reason: got %q", cur.Reason)
	}
	if notices.Load() != 1 {
		t.Errorf("notices: got %d, want 1", notices.Load())
	}
}

func TestDetector_MutationDebounceCoalesces(t *testing.T) {
	src := &fakeSource{snap: snapWith(validRecord())}
	bus := msgbus.New()
	notices := countNotices(bus)

	d := startDetector(t, DetectorConfig{Source: src, Bus: bus})
	d.Events() <- Event{Kind: EventInit}
	waitFor(t, "initial detection", func() bool {
		return d.Current(context.Background()) != nil
	})

	next := validRecord()
	next.Src = "/images/dress-swapped.jpg"
	src.setSnapshot(snapWith(next))

	// A burst of mutations must collapse into a single rescan.
	for i := 0; i < 5; i++ {
		d.Events() <- Event{Kind: EventMutation}
	}

	waitFor(t, "debounced rescan", func() bool {
		cur := d.Current(context.Background())
		return cur != nil && cur.URL == "https://shop.example.com/images/dress-swapped.jpg"
	})
	if got := notices.Load(); got != 2 {
		t.Errorf("notices: got %d, want 2 (init + one rescan)", got)
	}
}

func TestDetector_MutationSameURLNotReannounced(t *testing.T) {
	src := &fakeSource{snap: snapWith(validRecord())}
	bus := msgbus.New()
	notices := countNotices(bus)

	d := startDetector(t, DetectorConfig{Source: src, Bus: bus})
	d.Events() <- Event{Kind: EventInit}
	waitFor(t, "initial detection", func() bool {
		return d.Current(context.Background()) != nil
	})

	d.Events() <- Event{Kind: EventMutation}
	time.Sleep(100 * time.Millisecond)

	if got := notices.Load(); got != 1 {
		t.Errorf("notices after same-URL rescan: got %d, want 1", got)
	}
}

func TestDetector_ClickSupersedesPendingRescan(t *testing.T) {
	src := &fakeSource{snap: snapWith(validRecord())}
	d := startDetector(t, DetectorConfig{Source: src})
	d.Events() <- Event{Kind: EventInit}
	waitFor(t, "initial detection", func() bool {
		return d.Current(context.Background()) != nil
	})

	next := validRecord()
	next.Src = "/images/from-mutation.jpg"
	src.setSnapshot(snapWith(next))

	clicked := validRecord()
	clicked.Src = "/images/clicked-thumb.jpg" // denylisted name, clicks skip the denylist
	clicked.Rect = candidate.Rect{X: 10, Y: 10, W: 30, H: 30}

	d.Events() <- Event{Kind: EventMutation}
	d.Events() <- Event{
		Kind:     EventClick,
		Click:    &clicked,
		FrameURL: "https://shop.example.com/p/123",
		Viewport: testViewport(),
	}

	waitFor(t, "click selection", func() bool {
		cur := d.Current(context.Background())
		return cur != nil && cur.Reason == candidate.ReasonClick
	})

	// The cancelled rescan must not come back and overwrite the click.
	time.Sleep(100 * time.Millisecond)
	cur := d.Current(context.Background())
	if cur.URL != "https://shop.example.com/images/clicked-thumb.jpg" {
		t.Fatalf("click overwritten, current is %q", cur.URL)
	}
}

func TestDetector_MetadataFallback(t *testing.T) {
	src := &fakeSource{
		snap: candidate.Snapshot{FrameURL: "https://shop.example.com/p/123", Viewport: testViewport()},
		meta: metaWith(func(m *candidate.Metadata) {
			m.OGImage = "https://cdn.example.com/og.jpg"
		}),
	}
	d := startDetector(t, DetectorConfig{Source: src})
	d.Events() <- Event{Kind: EventInit}

	waitFor(t, "metadata fallback", func() bool {
		return d.Current(context.Background()) != nil
	})
	cur := d.Current(context.Background())
	if cur.URL != "https://cdn.example.com/og.jpg" || cur.Reason != candidate.ReasonMeta {
		t.Fatalf("fallback candidate: got %+v", cur)
	}
}

func TestDetector_CaptureNoCandidate(t *testing.T) {
	src := &fakeSource{
		snap: candidate.Snapshot{FrameURL: "https://shop.example.com/", Viewport: testViewport()},
	}
	d := startDetector(t, DetectorConfig{Source: src})

	res, err := d.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.OK || res.Error != NoCandidateError {
		t.Fatalf("expected the no-image result, got %+v", res)
	}
	if res.Frame != FrameTop {
		t.Errorf("frame: got %q", res.Frame)
	}
}

func TestDetector_ChildFrameDeclinesCapture(t *testing.T) {
	src := &fakeSource{snap: snapWith(validRecord())}
	d := startDetector(t, DetectorConfig{Frame: FrameChild, Source: src})

	_, err := d.Capture(context.Background())
	if !errors.Is(err, ErrNotTopFrame) {
		t.Fatalf("expected ErrNotTopFrame, got %v", err)
	}
}

func TestDetector_CaptureFetchesBytes(t *testing.T) {
	src := &fakeSource{snap: snapWith(validRecord())}
	bus := msgbus.New()
	bus.Handle(msgbus.TypeFetchImageAsDataURL,
		func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
			req, err := msgbus.DecodeFetchImageRequest(payload)
			if err != nil {
				return nil, err
			}
			if req.URL != "https://shop.example.com/images/dress-front.jpg" {
				t.Errorf("fetch request URL: got %q", req.URL)
			}
			return json.Marshal(msgbus.FetchImageResponse{
				OK: true, DataURL: "data:image/jpeg;base64,AAAA",
			})
		})

	d := startDetector(t, DetectorConfig{Source: src, Bus: bus})
	res, err := d.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if !res.OK {
		t.Fatalf("capture failed: %s", res.Error)
	}
	if res.ImageDataURL != "data:image/jpeg;base64,AAAA" {
		t.Errorf("data URL: got %q", res.ImageDataURL)
	}
	if res.ImageURL == "" || res.NaturalWidth == 0 {
		t.Errorf("missing candidate detail: %+v", res)
	}
}

func TestDetector_CaptureFetchFailureKeepsURL(t *testing.T) {
	src := &fakeSource{snap: snapWith(validRecord())}
	bus := msgbus.New()
	bus.Handle(msgbus.TypeFetchImageAsDataURL,
		func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return json.Marshal(msgbus.FetchImageResponse{OK: false, Error: "origin refused"})
		})

	d := startDetector(t, DetectorConfig{Source: src, Bus: bus})
	res, err := d.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.OK {
		t.Fatal("expected a failed capture")
	}
	if res.ImageDataURL != "" {
		t.Error("failed capture must not carry image bytes")
	}
	if res.ImageURL == "" {
		t.Error("failed fetch should still report the resolved URL")
	}
}

func TestDetector_CaptureFetchTimeout(t *testing.T) {
	src := &fakeSource{snap: snapWith(validRecord())}
	bus := msgbus.New(msgbus.WithTimeout(30 * time.Millisecond))
	bus.Handle(msgbus.TypeFetchImageAsDataURL,
		func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
			}
			return json.Marshal(msgbus.FetchImageResponse{OK: true, DataURL: "data:late"})
		})

	d := startDetector(t, DetectorConfig{Source: src, Bus: bus})
	res, err := d.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.OK || res.ImageDataURL != "" {
		t.Fatalf("late fetch must not succeed: %+v", res)
	}
}
