package detect

import "time"

// rescanDebounce coalesces mutation triggers: every Bump resets the window
// timer, so a rescan fires only once DOM churn has settled. It is a plain
// timer wrapper, decoupled from any observation API, so the orchestrator can
// be driven by simulated events in tests.
type rescanDebounce struct {
	window  time.Duration
	timer   *time.Timer
	timerCh <-chan time.Time
}

func newRescanDebounce(window time.Duration) *rescanDebounce {
	if window <= 0 {
		window = 300 * time.Millisecond
	}
	return &rescanDebounce{window: window}
}

// Bump (re)starts the window timer. The last mutation within the window wins.
func (d *rescanDebounce) Bump() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.window)
	d.timerCh = d.timer.C
}

// C returns the channel that fires when the window expires. Nil while no
// trigger is pending, which blocks forever in a select.
func (d *rescanDebounce) C() <-chan time.Time {
	return d.timerCh
}

// Cancel drops any pending trigger. Called when a click supersedes the
// scheduled rescan: explicit user intent must not be overwritten by a stale
// mutation scan.
func (d *rescanDebounce) Cancel() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
}
