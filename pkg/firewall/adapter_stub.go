//go:build !linux

package firewall

import (
	"runtime"
	"sync"

	"netwarden/pkg/logging"
	"netwarden/pkg/storage"
)

// StubAdapter is the no-op backend for platforms without a native
// implementation. It tracks state so status reporting and tests behave
// like the real thing.
type StubAdapter struct {
	logger *logging.Logger

	mu        sync.Mutex
	installed bool
	rules     int
}

// NewAdapter returns the platform adapter for this host
func NewAdapter(logger *logging.Logger) Adapter {
	return &StubAdapter{logger: logger}
}

func (a *StubAdapter) PlatformName() string {
	switch runtime.GOOS {
	case "darwin":
		return "macos"
	case "windows":
		return "windows"
	default:
		return runtime.GOOS
	}
}

func (a *StubAdapter) Install() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.installed = true
	a.logger.Info("Firewall adapter installed (no-op backend)", "platform", a.PlatformName())
	return nil
}

func (a *StubAdapter) Uninstall() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.installed = false
	a.rules = 0
	a.logger.Info("Firewall adapter uninstalled (no-op backend)")
	return nil
}

func (a *StubAdapter) ApplyRules(rules []*storage.FirewallRule) error {
	active := 0
	for _, r := range rules {
		if r.IsActive {
			active++
		}
	}
	a.mu.Lock()
	a.rules = active
	a.mu.Unlock()
	a.logger.Info("Firewall rules recorded (no-op backend)", "count", active)
	return nil
}

func (a *StubAdapter) Status() (*Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &Status{
		Engine:      "none",
		Platform:    a.PlatformName(),
		Installed:   a.installed,
		ActiveRules: a.rules,
	}, nil
}
