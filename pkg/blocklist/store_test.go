package blocklist

import (
	"context"
	"testing"

	"netwarden/pkg/config"
	"netwarden/pkg/logging"
	"netwarden/pkg/storage"
)

// stubStore provides just enough of storage.Store for index tests
type stubStore struct {
	storage.Store
	domains []storage.BlockedDomain
}

func (s *stubStore) LoadBlockedDomains(ctx context.Context) ([]storage.BlockedDomain, error) {
	return s.domains, nil
}

func storeLogger(t *testing.T) *logging.Logger {
	logger, err := logging.New(&config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}

func loadedStore(t *testing.T, domains ...storage.BlockedDomain) *Store {
	s := NewStore(&config.BlocklistConfig{}, &stubStore{domains: domains}, storeLogger(t), nil)
	if err := s.LoadFromStorage(context.Background()); err != nil {
		t.Fatalf("LoadFromStorage() error: %v", err)
	}
	return s
}

func TestIsBlockedExact(t *testing.T) {
	s := loadedStore(t, storage.BlockedDomain{Domain: "ads.example.com", Category: "advertising"})

	blocked, category := s.IsBlocked("ads.example.com")
	if !blocked {
		t.Fatal("exact match should be blocked")
	}
	if category != "advertising" {
		t.Errorf("category = %q, want advertising", category)
	}
}

func TestIsBlockedParentDomain(t *testing.T) {
	s := loadedStore(t, storage.BlockedDomain{Domain: "example.com", Category: "malware"})

	tests := []struct {
		fqdn    string
		blocked bool
	}{
		{"example.com", true},
		{"sub.example.com", true},
		{"deep.sub.example.com", true},
		{"notexample.com", false},
		{"example.org", false},
	}
	for _, tt := range tests {
		if blocked, _ := s.IsBlocked(tt.fqdn); blocked != tt.blocked {
			t.Errorf("IsBlocked(%q) = %v, want %v", tt.fqdn, blocked, tt.blocked)
		}
	}
}

func TestIsBlockedSubdomainDoesNotBlockParent(t *testing.T) {
	s := loadedStore(t, storage.BlockedDomain{Domain: "ads.example.com"})

	if blocked, _ := s.IsBlocked("example.com"); blocked {
		t.Error("blocking a subdomain must not block its parent")
	}
}

func TestSize(t *testing.T) {
	s := loadedStore(t,
		storage.BlockedDomain{Domain: "a.example.com"},
		storage.BlockedDomain{Domain: "b.example.com"},
	)
	if s.Size() != 2 {
		t.Errorf("Size() = %d, want 2", s.Size())
	}
}
