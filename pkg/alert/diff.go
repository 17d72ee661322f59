// Package alert turns network-scan snapshot diffs into classified
// alerts and dispatches them to notification channels.
package alert

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/expr-lang/expr"

	"netwarden/pkg/config"
)

// Severity levels.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityCritical: 2,
}

// Alert kinds.
const (
	KindNewDevice      = "new_device"
	KindDeviceMissing  = "device_missing"
	KindPortChange     = "port_change"
	KindCategoryChange = "category_change"
	KindVendorChange   = "vendor_change"
	KindHostnameChange = "hostname_change"
	KindMassChange     = "mass_change"
	KindRogueDevice    = "rogue_device"
)

// Asset is one discovered device in a scan snapshot
type Asset struct {
	IP       string `json:"ip"`
	MAC      string `json:"mac"`
	Hostname string `json:"hostname,omitempty"`
	Vendor   string `json:"vendor,omitempty"`
	Category string `json:"category,omitempty"`
	Ports    []int  `json:"ports,omitempty"`
}

// Key is the asset identity within a snapshot: MAC when present,
// otherwise IP.
func (a Asset) Key() string {
	if a.MAC != "" {
		return a.MAC
	}
	return a.IP
}

// Snapshot is one point-in-time scan of the network
type Snapshot struct {
	TakenAt time.Time `json:"taken_at"`
	Assets  []Asset   `json:"assets"`
}

// Alert is one classified finding
type Alert struct {
	Kind      string    `json:"kind"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Asset     *Asset    `json:"asset,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Differ compares snapshots and classifies the changes
type Differ struct {
	cfg *config.AlertsConfig
}

// NewDiffer creates a snapshot differ
func NewDiffer(cfg *config.AlertsConfig) *Differ {
	return &Differ{cfg: cfg}
}

// Diff compares two snapshots and returns the resulting alerts. The
// mass_change alert fires once when the number of new assets reaches
// the configured threshold.
func (d *Differ) Diff(prev, curr *Snapshot) []Alert {
	now := time.Now()
	prevByKey := indexAssets(prev)
	currByKey := indexAssets(curr)

	var alerts []Alert
	var newAssets []Asset

	for key, asset := range currByKey {
		if _, existed := prevByKey[key]; !existed {
			newAssets = append(newAssets, asset)
		}
	}
	sort.Slice(newAssets, func(i, j int) bool { return newAssets[i].Key() < newAssets[j].Key() })

	for i := range newAssets {
		asset := newAssets[i]
		alerts = append(alerts, Alert{
			Kind:      KindNewDevice,
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("new device %s on the network", describeAsset(asset)),
			Asset:     &asset,
			Timestamp: now,
		})
		if rogue := d.matchRogue(asset, now); rogue != nil {
			alerts = append(alerts, *rogue)
		}
	}

	var missing []Asset
	for key, asset := range prevByKey {
		if _, present := currByKey[key]; !present {
			missing = append(missing, asset)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].Key() < missing[j].Key() })
	for i := range missing {
		asset := missing[i]
		alerts = append(alerts, Alert{
			Kind:      KindDeviceMissing,
			Severity:  SeverityInfo,
			Message:   fmt.Sprintf("device %s disappeared", describeAsset(asset)),
			Asset:     &asset,
			Timestamp: now,
		})
	}

	for key, curAsset := range currByKey {
		prevAsset, existed := prevByKey[key]
		if !existed {
			continue
		}
		alerts = append(alerts, diffFields(prevAsset, curAsset, now)...)
	}

	if len(newAssets) >= d.cfg.MassThreshold {
		alerts = append(alerts, Alert{
			Kind:     KindMassChange,
			Severity: SeverityCritical,
			Message: fmt.Sprintf("%d new devices appeared in one scan (threshold %d)",
				len(newAssets), d.cfg.MassThreshold),
			Timestamp: now,
		})
	}

	return alerts
}

// matchRogue evaluates user rules against a new asset. Prefix matches
// come first; an optional expression condition handles anything richer.
func (d *Differ) matchRogue(asset Asset, now time.Time) *Alert {
	for _, rule := range d.cfg.Rules {
		matched := false
		switch {
		case rule.IPPrefix != "" && strings.HasPrefix(asset.IP, rule.IPPrefix):
			matched = true
		case rule.MACPrefix != "" && strings.HasPrefix(strings.ToLower(asset.MAC), strings.ToLower(rule.MACPrefix)):
			matched = true
		case rule.Condition != "":
			matched = evalCondition(rule.Condition, asset)
		}
		if !matched {
			continue
		}

		severity := Severity(rule.Severity)
		if _, known := severityRank[severity]; !known {
			severity = SeverityWarning
		}
		return &Alert{
			Kind:      KindRogueDevice,
			Severity:  severity,
			Message:   fmt.Sprintf("device %s matched rule %q", describeAsset(asset), rule.Name),
			Asset:     &asset,
			Detail:    rule.Name,
			Timestamp: now,
		}
	}
	return nil
}

// evalCondition compiles and runs an expression against the asset. A
// broken or non-boolean expression never matches.
func evalCondition(condition string, asset Asset) bool {
	env := map[string]any{
		"ip":       asset.IP,
		"mac":      asset.MAC,
		"hostname": asset.Hostname,
		"vendor":   asset.Vendor,
		"category": asset.Category,
		"ports":    asset.Ports,
	}
	program, err := expr.Compile(condition, expr.Env(env), expr.AsBool())
	if err != nil {
		return false
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return false
	}
	matched, ok := result.(bool)
	return ok && matched
}

func diffFields(prev, curr Asset, now time.Time) []Alert {
	var alerts []Alert

	if !equalPorts(prev.Ports, curr.Ports) {
		alerts = append(alerts, Alert{
			Kind:     KindPortChange,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("open ports changed on %s", describeAsset(curr)),
			Asset:    &curr,
			Detail: fmt.Sprintf("before %v, after %v",
				prev.Ports, curr.Ports),
			Timestamp: now,
		})
	}
	if prev.Category != curr.Category {
		alerts = append(alerts, Alert{
			Kind:      KindCategoryChange,
			Severity:  SeverityInfo,
			Message:   fmt.Sprintf("category changed on %s", describeAsset(curr)),
			Asset:     &curr,
			Detail:    fmt.Sprintf("%q to %q", prev.Category, curr.Category),
			Timestamp: now,
		})
	}
	if prev.Vendor != curr.Vendor {
		alerts = append(alerts, Alert{
			Kind:      KindVendorChange,
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("vendor changed on %s", describeAsset(curr)),
			Asset:     &curr,
			Detail:    fmt.Sprintf("%q to %q", prev.Vendor, curr.Vendor),
			Timestamp: now,
		})
	}
	if prev.Hostname != curr.Hostname {
		alerts = append(alerts, Alert{
			Kind:      KindHostnameChange,
			Severity:  SeverityInfo,
			Message:   fmt.Sprintf("hostname changed on %s", describeAsset(curr)),
			Asset:     &curr,
			Detail:    fmt.Sprintf("%q to %q", prev.Hostname, curr.Hostname),
			Timestamp: now,
		})
	}
	return alerts
}

func indexAssets(snap *Snapshot) map[string]Asset {
	out := make(map[string]Asset)
	if snap == nil {
		return out
	}
	for _, asset := range snap.Assets {
		out[asset.Key()] = asset
	}
	return out
}

func equalPorts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]int(nil), a...)
	bs := append([]int(nil), b...)
	sort.Ints(as)
	sort.Ints(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func describeAsset(a Asset) string {
	if a.Hostname != "" {
		return fmt.Sprintf("%s (%s)", a.Hostname, a.IP)
	}
	if a.MAC != "" {
		return fmt.Sprintf("%s (%s)", a.IP, a.MAC)
	}
	return a.IP
}
