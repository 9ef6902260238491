// Package observer runs the injected probe in one frame and bridges its
// signals to the detection orchestrator: mutation and click events arrive
// over a CDP Runtime binding, snapshots and metadata are pulled on demand.
package observer

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/ecostyle/scout/detect/candidate"
)

//go:embed probe.js
var probeJS string

const bindingName = "__scout_binding"

// Signal kinds raised by the probe.
const (
	KindInit             = "init"
	KindDOMContentLoaded = "domcontentloaded"
	KindMutation         = "mutation"
	KindClick            = "click"
)

// Signal is one probe event. Click signals carry the clicked element's raw
// record plus the geometry needed to score it; the rest are bare triggers.
type Signal struct {
	Kind     string                 `json:"kind"`
	FrameURL string                 `json:"frame_url,omitempty"`
	Viewport candidate.Viewport     `json:"viewport,omitempty"`
	Record   *candidate.ImageRecord `json:"record,omitempty"`
}

// SignalFunc receives probe signals. It must not block: it runs on the CDP
// event goroutine.
type SignalFunc func(Signal)

// Observer manages the probe for a single frame and implements the
// orchestrator's Source for it.
type Observer struct {
	page     *rod.Page
	onSignal SignalFunc
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// Config for creating an Observer.
type Config struct {
	Page     *rod.Page
	OnSignal SignalFunc
	Logger   *slog.Logger
}

// New creates an Observer for one frame's page handle.
func New(cfg Config) *Observer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Observer{
		page:     cfg.Page,
		onSignal: cfg.OnSignal,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetContext allows the parent watcher to pass its context.
func (o *Observer) SetContext(ctx context.Context) {
	o.ctx, o.cancel = context.WithCancel(ctx)
}

// Start installs the binding, injects the probe and emits the initial
// detection trigger.
func (o *Observer) Start() error {
	err := proto.RuntimeAddBinding{Name: bindingName}.Call(o.page)
	if err != nil {
		o.logger.Warn("observer: addBinding failed (may already exist)", "error", err)
	}

	go o.listenBinding()

	if _, err := o.page.Eval(probeJS); err != nil {
		return fmt.Errorf("observer: inject probe: %w", err)
	}

	o.emit(Signal{Kind: KindInit})
	return nil
}

// Stop detaches from the page.
func (o *Observer) Stop() {
	o.cancel()
}

// Snapshot pulls the frame's current image records through the probe.
func (o *Observer) Snapshot(ctx context.Context) (candidate.Snapshot, error) {
	var snap candidate.Snapshot
	res, err := o.page.Context(ctx).Eval(`() => window.__scout_collect()`)
	if err != nil {
		return snap, fmt.Errorf("observer: collect: %w", err)
	}
	if err := json.Unmarshal([]byte(res.Value.JSON("", "")), &snap); err != nil {
		return snap, fmt.Errorf("observer: parse snapshot: %w", err)
	}
	return snap, nil
}

// Metadata pulls the frame's page-level image hints through the probe.
func (o *Observer) Metadata(ctx context.Context) (candidate.Metadata, error) {
	var meta candidate.Metadata
	res, err := o.page.Context(ctx).Eval(`() => window.__scout_metadata()`)
	if err != nil {
		return meta, fmt.Errorf("observer: metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(res.Value.JSON("", "")), &meta); err != nil {
		return meta, fmt.Errorf("observer: parse metadata: %w", err)
	}
	return meta, nil
}

// listenBinding receives probe signals via Runtime.bindingCalled.
func (o *Observer) listenBinding() {
	o.page.Context(o.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}

		var sig Signal
		if err := json.Unmarshal([]byte(e.Payload), &sig); err != nil {
			o.logger.Warn("observer: parse binding payload", "error", err)
			return
		}

		switch sig.Kind {
		case KindMutation, KindDOMContentLoaded:
			o.emit(sig)
		case KindClick:
			if sig.Record != nil {
				o.emit(sig)
			}
		default:
			o.logger.Debug("observer: unknown probe signal", "kind", sig.Kind)
		}
	})()
}

func (o *Observer) emit(sig Signal) {
	if o.onSignal != nil {
		o.onSignal(sig)
	}
}
