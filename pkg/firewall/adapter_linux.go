//go:build linux

package firewall

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"

	"netwarden/pkg/logging"
	"netwarden/pkg/storage"
)

const nftTableName = "netwarden"

// NFTablesAdapter manages a dedicated nftables table. Nothing outside
// that table is ever touched.
type NFTablesAdapter struct {
	logger *logging.Logger
}

// NewAdapter returns the platform adapter for this host
func NewAdapter(logger *logging.Logger) Adapter {
	return &NFTablesAdapter{logger: logger}
}

func (a *NFTablesAdapter) PlatformName() string { return "linux" }

// Install creates the managed table and its base chains. Safe to call
// repeatedly.
func (a *NFTablesAdapter) Install() error {
	conn, err := nftables.New()
	if err != nil {
		return fmt.Errorf("failed to open nftables connection: %w", err)
	}

	table := conn.AddTable(&nftables.Table{
		Name:   nftTableName,
		Family: nftables.TableFamilyIPv4,
	})
	a.addBaseChains(conn, table)

	if err := conn.Flush(); err != nil {
		return fmt.Errorf("failed to install nftables table: %w", err)
	}
	a.logger.Info("nftables table installed", "table", nftTableName)
	return nil
}

// Uninstall deletes the managed table
func (a *NFTablesAdapter) Uninstall() error {
	conn, err := nftables.New()
	if err != nil {
		return fmt.Errorf("failed to open nftables connection: %w", err)
	}

	table, err := a.findTable(conn)
	if err != nil {
		return err
	}
	if table == nil {
		return nil
	}

	conn.DelTable(table)
	if err := conn.Flush(); err != nil {
		return fmt.Errorf("failed to remove nftables table: %w", err)
	}
	a.logger.Info("nftables table removed", "table", nftTableName)
	return nil
}

// ApplyRules flushes the managed table and rebuilds it from the input
// set in one netlink batch, so the replacement is atomic.
func (a *NFTablesAdapter) ApplyRules(rules []*storage.FirewallRule) error {
	conn, err := nftables.New()
	if err != nil {
		return fmt.Errorf("failed to open nftables connection: %w", err)
	}

	table := conn.AddTable(&nftables.Table{
		Name:   nftTableName,
		Family: nftables.TableFamilyIPv4,
	})
	conn.FlushTable(table)
	input, output := a.addBaseChains(conn, table)

	// Allow rules first so they win over blocks within a chain
	ordered := make([]*storage.FirewallRule, 0, len(rules))
	for _, r := range rules {
		if r.Type == TypeAllowIP || r.Type == TypeAllowDomain {
			ordered = append(ordered, r)
		}
	}
	for _, r := range rules {
		if r.Type != TypeAllowIP && r.Type != TypeAllowDomain {
			ordered = append(ordered, r)
		}
	}

	applied := 0
	for _, rule := range ordered {
		if !rule.IsActive {
			continue
		}
		if err := a.addRule(conn, table, input, output, rule); err != nil {
			a.logger.Warn("Skipping unapplicable rule", "rule", rule.ID, "error", err)
			continue
		}
		applied++
	}

	if err := conn.Flush(); err != nil {
		return fmt.Errorf("failed to apply nftables rules: %w", err)
	}
	a.logger.Info("nftables rules applied", "count", applied)
	return nil
}

// Status reports the managed table's state
func (a *NFTablesAdapter) Status() (*Status, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, fmt.Errorf("failed to open nftables connection: %w", err)
	}

	table, err := a.findTable(conn)
	if err != nil {
		return nil, err
	}

	status := &Status{
		Engine:   "nftables",
		Platform: "linux",
		Metadata: map[string]string{"table": nftTableName},
	}
	if table == nil {
		return status, nil
	}
	status.Installed = true

	chains, err := conn.ListChains()
	if err != nil {
		return nil, fmt.Errorf("failed to list chains: %w", err)
	}
	for _, chain := range chains {
		if chain.Table.Name != nftTableName {
			continue
		}
		rules, err := conn.GetRules(table, chain)
		if err != nil {
			continue
		}
		status.ActiveRules += len(rules)
	}
	return status, nil
}

func (a *NFTablesAdapter) findTable(conn *nftables.Conn) (*nftables.Table, error) {
	tables, err := conn.ListTables()
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	for _, t := range tables {
		if t.Name == nftTableName && t.Family == nftables.TableFamilyIPv4 {
			return t, nil
		}
	}
	return nil, nil
}

func (a *NFTablesAdapter) addBaseChains(conn *nftables.Conn, table *nftables.Table) (input, output *nftables.Chain) {
	accept := nftables.ChainPolicyAccept
	input = conn.AddChain(&nftables.Chain{
		Name:     "input",
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookInput,
		Priority: nftables.ChainPriorityFilter,
		Policy:   &accept,
	})
	output = conn.AddChain(&nftables.Chain{
		Name:     "output",
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookOutput,
		Priority: nftables.ChainPriorityFilter,
		Policy:   &accept,
	})
	return input, output
}

// addRule maps one stored rule to native primitives. Domain rules have
// no nftables primitive; the DNS sinkhole is their enforcement path, so
// they are logged no-ops here.
func (a *NFTablesAdapter) addRule(conn *nftables.Conn, table *nftables.Table,
	input, output *nftables.Chain, rule *storage.FirewallRule) error {
	switch rule.Type {
	case TypeBlockIP, TypeAllowIP:
		verdict := expr.VerdictDrop
		if rule.Type == TypeAllowIP {
			verdict = expr.VerdictAccept
		}
		for _, chain := range a.chainsFor(rule.Direction, input, output) {
			exprs, err := ipMatchExprs(rule.Target, chain == input)
			if err != nil {
				return err
			}
			exprs = append(exprs, &expr.Verdict{Kind: verdict})
			conn.AddRule(&nftables.Rule{Table: table, Chain: chain, Exprs: exprs})
		}
		return nil

	case TypeBlockPort:
		port, err := strconv.Atoi(rule.Target)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid port target %q", rule.Target)
		}
		protocols := []string{rule.Protocol}
		if rule.Protocol == ProtocolAny || rule.Protocol == "" {
			protocols = []string{ProtocolTCP, ProtocolUDP}
		}
		for _, chain := range a.chainsFor(rule.Direction, input, output) {
			for _, proto := range protocols {
				exprs := portMatchExprs(uint16(port), proto)
				exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictDrop})
				conn.AddRule(&nftables.Rule{Table: table, Chain: chain, Exprs: exprs})
			}
		}
		return nil

	case TypeBlockDomain, TypeAllowDomain:
		a.logger.Info("Domain rule requires DNS enforcement, no packet rule emitted",
			"rule", rule.ID, "target", rule.Target)
		return nil

	default:
		return fmt.Errorf("unknown rule type %q", rule.Type)
	}
}

func (a *NFTablesAdapter) chainsFor(direction string, input, output *nftables.Chain) []*nftables.Chain {
	switch direction {
	case DirectionInbound:
		return []*nftables.Chain{input}
	case DirectionOutbound:
		return []*nftables.Chain{output}
	default:
		return []*nftables.Chain{input, output}
	}
}

// ipMatchExprs matches the source address on input chains and the
// destination address on output chains. CIDR targets mask before
// comparing.
func ipMatchExprs(target string, inbound bool) ([]expr.Any, error) {
	offset := uint32(16) // daddr
	if inbound {
		offset = 12 // saddr
	}

	ip, ipNet, err := net.ParseCIDR(target)
	if err != nil {
		ip = net.ParseIP(target)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP target %q", target)
		}
		ipNet = &net.IPNet{IP: ip, Mask: net.CIDRMask(32, 32)}
	}
	v4 := ipNet.IP.To4()
	if v4 == nil {
		return nil, fmt.Errorf("non-IPv4 target %q", target)
	}

	exprs := []expr.Any{
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseNetworkHeader,
			Offset:       offset,
			Len:          4,
		},
	}
	if ones, _ := ipNet.Mask.Size(); ones < 32 {
		exprs = append(exprs, &expr.Bitwise{
			SourceRegister: 1,
			DestRegister:   1,
			Len:            4,
			Mask:           ipNet.Mask,
			Xor:            []byte{0, 0, 0, 0},
		})
	}
	exprs = append(exprs, &expr.Cmp{
		Op:       expr.CmpOpEq,
		Register: 1,
		Data:     v4,
	})
	return exprs, nil
}

func portMatchExprs(port uint16, proto string) []expr.Any {
	protoNum := byte(6) // tcp
	if proto == ProtocolUDP {
		protoNum = 17
	}
	portBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(portBytes, port)

	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{protoNum}},
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseTransportHeader,
			Offset:       2, // dport
			Len:          2,
		},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: portBytes},
	}
}
