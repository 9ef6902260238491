package browser

import (
	"fmt"
	"os/exec"
	"time"
)

// xvfbWarmup gives the display server time to accept connections before
// Chrome attaches to it.
const xvfbWarmup = 500 * time.Millisecond

// startXvfb brings up a virtual display for headful stealth sessions. A
// no-op when one is already running.
func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}

	cmd := exec.Command("Xvfb", m.cfg.XvfbDisplay, "-screen", "0", "1920x1080x24", "-ac")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb on %s: %w", m.cfg.XvfbDisplay, err)
	}
	time.Sleep(xvfbWarmup)

	m.xvfb = cmd
	m.cfg.Logger.Info("browser: xvfb started",
		"display", m.cfg.XvfbDisplay, "pid", cmd.Process.Pid)
	return nil
}

// stopXvfb tears the virtual display down.
func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	if m.xvfb.Process != nil {
		m.xvfb.Process.Kill()
		m.xvfb.Wait()
	}
	m.xvfb = nil
	m.cfg.Logger.Info("browser: xvfb stopped")
}
