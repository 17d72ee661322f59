// Package firewall manages the materialised rule set and dispatches it
// to the platform adapter.
package firewall

// Rule types.
const (
	TypeBlockIP     = "block_ip"
	TypeBlockPort   = "block_port"
	TypeBlockDomain = "block_domain"
	TypeAllowIP     = "allow_ip"
	TypeAllowDomain = "allow_domain"
)

// Rule sources.
const (
	SourceUser        = "user"
	SourceThreatIntel = "threat_intel"
	SourceRemediation = "remediation"
)

// Directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
	DirectionBoth     = "both"
)

// Protocols.
const (
	ProtocolTCP = "tcp"
	ProtocolUDP = "udp"
	ProtocolAny = "any"
)

var validTypes = map[string]bool{
	TypeBlockIP:     true,
	TypeBlockPort:   true,
	TypeBlockDomain: true,
	TypeAllowIP:     true,
	TypeAllowDomain: true,
}

var validDirections = map[string]bool{
	DirectionInbound:  true,
	DirectionOutbound: true,
	DirectionBoth:     true,
}

var validProtocols = map[string]bool{
	ProtocolTCP: true,
	ProtocolUDP: true,
	ProtocolAny: true,
}
