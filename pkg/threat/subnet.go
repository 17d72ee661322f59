// Package threat ingests open-source threat feeds, aggregates indicators
// to /24 subnets with privacy-preserving hashing, and serves lookups.
package threat

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
)

// SubnetOf maps an IPv4 address to its /24 network string "A.B.C.0/24".
// Returns an empty string for anything that is not a parseable IPv4.
func SubnetOf(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	v4 := parsed.To4()
	if v4 == nil {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d.0/24", v4[0], v4[1], v4[2])
}

// HashSubnet returns the hex HMAC-SHA256 of the subnet string under key.
// The hash is the only identity stored for public subnets.
func HashSubnet(key, subnet string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(subnet))
	return hex.EncodeToString(mac.Sum(nil))
}

var privateRanges = func() []*net.IPNet {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"100.64.0.0/10", // CGNAT
	}
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}()

// DeriveDefaultKey returns the deterministic fallback HMAC key used
// when no secret is configured.
func DeriveDefaultKey() string {
	sum := sha256.Sum256([]byte("netwarden-subnet-hash-v1"))
	return hex.EncodeToString(sum[:])
}

// IsPrivate reports whether ip falls in RFC 1918 or CGNAT space. Private
// subnets keep their prefix in clear; public ones store only the hash.
func IsPrivate(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range privateRanges {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}
