package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab wraps a Rod page with scout-specific setup: stealth, resource
// blocking, and frame enumeration.
type Tab struct {
	Page    *rod.Page
	PageURL string
	PageID  string
	Stealth StealthLevel
	manager *Manager
}

// Frame is one detectable browsing context inside a tab: the top document
// or a same-process iframe.
type Frame struct {
	Page *rod.Page
	URL  string
	Top  bool
}

// OpenTab creates a new tab, navigates to the URL with stealth applied,
// and waits for the load event.
func OpenTab(ctx context.Context, mgr *Manager, pageURL, pageID string, level StealthLevel) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error

	if level >= LevelHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, mgr.cfg.ResourceBlocking); err != nil {
			mgr.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err = page.Context(navCtx).Navigate(pageURL)
	if err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}

	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return &Tab{
		Page:    page,
		PageURL: pageURL,
		PageID:  pageID,
		Stealth: level,
		manager: mgr,
	}, nil
}

// Frames enumerates the top document plus reachable same-process iframes.
// Cross-origin frames that cannot be adopted are skipped with a log line,
// never an error: a page with unreachable ad frames is still detectable.
func (t *Tab) Frames(ctx context.Context) []Frame {
	frames := []Frame{{Page: t.Page, URL: t.PageURL, Top: true}}

	elements, err := t.Page.Context(ctx).Elements("iframe")
	if err != nil {
		t.manager.cfg.Logger.Debug("browser: iframe query failed", "error", err)
		return frames
	}

	for _, el := range elements {
		fp, err := el.Frame()
		if err != nil {
			t.manager.cfg.Logger.Debug("browser: iframe not adoptable", "error", err)
			continue
		}
		info, err := fp.Info()
		if err != nil {
			continue
		}
		frames = append(frames, Frame{Page: fp, URL: info.URL})
	}
	return frames
}

// Viewport returns the tab's layout viewport in CSS pixels.
func (t *Tab) Viewport(ctx context.Context) (w, h float64, err error) {
	res, err := t.Page.Context(ctx).Eval(`() => [window.innerWidth, window.innerHeight]`)
	if err != nil {
		return 0, 0, fmt.Errorf("browser: viewport: %w", err)
	}
	arr := res.Value.Arr()
	if len(arr) != 2 {
		return 0, 0, fmt.Errorf("browser: viewport: unexpected result")
	}
	return arr[0].Num(), arr[1].Num(), nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
