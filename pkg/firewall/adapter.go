package firewall

import "netwarden/pkg/storage"

// Status reports the adapter's view of the host firewall
type Status struct {
	Engine      string            `json:"engine"`
	Platform    string            `json:"platform"`
	Installed   bool              `json:"installed"`
	ActiveRules int               `json:"active_rules"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Adapter is the platform firewall backend. Adapters own a dedicated
// namespace (an nftables table, a WFP sublayer) and never touch rules
// outside it. All operations are idempotent.
type Adapter interface {
	// Install prepares the native objects
	Install() error
	// Uninstall removes the native objects, leaving the rest of the
	// host firewall untouched
	Uninstall() error
	// ApplyRules atomically replaces the managed rules with the input set
	ApplyRules(rules []*storage.FirewallRule) error
	// Status reports engine name, installed flag, and rule count
	Status() (*Status, error)
	// PlatformName is "linux", "windows", or "macos"
	PlatformName() string
}
