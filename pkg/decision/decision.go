// Package decision turns a domain name into an allow/block verdict by
// consulting user rules first and the merged blocklist second.
package decision

import (
	"netwarden/pkg/blocklist"
	"netwarden/pkg/rules"
)

// Verdicts and reasons attached to a decision.
const (
	VerdictAllow = "allow"
	VerdictBlock = "block"

	ReasonCustomAllow  = "custom_allow"
	ReasonCustomBlock  = "custom_block"
	ReasonBlocklist    = "blocklist"
	ReasonDefaultAllow = "default_allow"
)

// Decision is the outcome for a single domain
type Decision struct {
	Verdict  string
	Reason   string
	RuleID   string
	Category string
}

// Block reports whether the query should be sinkholed
func (d Decision) Block() bool {
	return d.Verdict == VerdictBlock
}

// Engine decides on domains. It holds no mutable state of its own; the
// same inputs always produce the same decision.
type Engine struct {
	rules     *rules.Store
	blocklist *blocklist.Store
}

// New creates a decision engine over the given stores
func New(r *rules.Store, b *blocklist.Store) *Engine {
	return &Engine{rules: r, blocklist: b}
}

// Decide evaluates a domain. A matching rule strictly dominates any
// blocklist match.
func (e *Engine) Decide(domain string) Decision {
	if m, ok := e.rules.Check(domain); ok {
		switch m.Action {
		case rules.ActionAllow:
			return Decision{
				Verdict:  VerdictAllow,
				Reason:   ReasonCustomAllow,
				RuleID:   m.RuleID,
				Category: m.Category,
			}
		case rules.ActionBlock:
			return Decision{
				Verdict:  VerdictBlock,
				Reason:   ReasonCustomBlock,
				RuleID:   m.RuleID,
				Category: m.Category,
			}
		}
	}

	if blocked, category := e.blocklist.IsBlocked(domain); blocked {
		return Decision{
			Verdict:  VerdictBlock,
			Reason:   ReasonBlocklist,
			Category: category,
		}
	}

	return Decision{Verdict: VerdictAllow, Reason: ReasonDefaultAllow}
}
