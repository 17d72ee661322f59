package firewall

// HighRiskPort is one entry of the compile-time remediation table
type HighRiskPort struct {
	Port     int
	Protocol string
	Service  string
	Reason   string
}

// highRiskPorts are legacy or frequently abused services blocked by the
// remediation sync. Editing this table is a policy change.
var highRiskPorts = []HighRiskPort{
	{Port: 23, Protocol: ProtocolTCP, Service: "telnet", Reason: "cleartext remote shell"},
	{Port: 135, Protocol: ProtocolTCP, Service: "msrpc", Reason: "Windows RPC endpoint mapper"},
	{Port: 137, Protocol: ProtocolUDP, Service: "netbios-ns", Reason: "NetBIOS name service"},
	{Port: 138, Protocol: ProtocolUDP, Service: "netbios-dgm", Reason: "NetBIOS datagram service"},
	{Port: 139, Protocol: ProtocolTCP, Service: "netbios-ssn", Reason: "NetBIOS session service"},
	{Port: 445, Protocol: ProtocolTCP, Service: "smb", Reason: "SMB exposed to WAN"},
	{Port: 1433, Protocol: ProtocolTCP, Service: "mssql", Reason: "database exposed to WAN"},
	{Port: 3389, Protocol: ProtocolTCP, Service: "rdp", Reason: "remote desktop brute-force target"},
	{Port: 5900, Protocol: ProtocolTCP, Service: "vnc", Reason: "unauthenticated screen sharing"},
	{Port: 7547, Protocol: ProtocolTCP, Service: "cwmp", Reason: "TR-069 management, Mirai vector"},
}

// HighRiskPorts returns a copy of the remediation port table
func HighRiskPorts() []HighRiskPort {
	out := make([]HighRiskPort, len(highRiskPorts))
	copy(out, highRiskPorts)
	return out
}
