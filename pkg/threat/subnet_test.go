package threat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubnetOf(t *testing.T) {
	tests := []struct {
		ip   string
		want string
	}{
		{"8.8.8.8", "8.8.8.0/24"},
		{"192.168.1.42", "192.168.1.0/24"},
		{"10.0.0.1", "10.0.0.0/24"},
		{"198.51.100.254", "198.51.100.0/24"},
		{"not-an-ip", ""},
		{"2001:db8::1", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SubnetOf(tt.ip), "SubnetOf(%q)", tt.ip)
	}
}

func TestHashSubnetDeterministic(t *testing.T) {
	a := HashSubnet("secret", "8.8.8.0/24")
	b := HashSubnet("secret", "8.8.8.0/24")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "hex SHA-256 output")
}

func TestHashSubnetKeyed(t *testing.T) {
	assert.NotEqual(t,
		HashSubnet("secret-one", "8.8.8.0/24"),
		HashSubnet("secret-two", "8.8.8.0/24"),
		"different keys must produce different hashes")
	assert.NotEqual(t,
		HashSubnet("secret", "8.8.8.0/24"),
		HashSubnet("secret", "8.8.9.0/24"),
		"different subnets must produce different hashes")
}

func TestIsPrivate(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"172.32.0.1", false},
		{"192.168.0.1", true},
		{"100.64.0.1", true},  // CGNAT
		{"100.127.255.255", true},
		{"100.128.0.1", false},
		{"8.8.8.8", false},
		{"198.51.100.1", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.private, IsPrivate(tt.ip), "IsPrivate(%q)", tt.ip)
	}
}

func TestDeriveDefaultKeyStable(t *testing.T) {
	assert.Equal(t, DeriveDefaultKey(), DeriveDefaultKey())
	assert.NotEmpty(t, DeriveDefaultKey())
}
