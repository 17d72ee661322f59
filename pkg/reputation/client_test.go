package reputation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netwarden/pkg/config"
	"netwarden/pkg/logging"
)

func testClient(t *testing.T, cfg *config.ReputationConfig, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	logger, err := logging.New(&config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"})
	require.NoError(t, err)

	c := NewClient(cfg, logger)
	if handler != nil {
		server := httptest.NewServer(handler)
		t.Cleanup(server.Close)
		c.endpoint = server.URL
		c.client = server.Client()
		return c, server
	}
	return c, nil
}

func TestCheckWithoutAPIKey(t *testing.T) {
	c, _ := testClient(t, &config.ReputationConfig{DailyLimit: 10, CacheTTL: time.Hour}, nil)

	rec, err := c.Check(context.Background(), "198.51.100.7")
	assert.NoError(t, err)
	assert.Nil(t, rec, "no key means no lookup")
}

func TestCheckNormalizesScore(t *testing.T) {
	c, _ := testClient(t,
		&config.ReputationConfig{APIKey: "k", DailyLimit: 10, CacheTTL: time.Hour},
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "k", r.Header.Get("Key"))
			assert.Equal(t, "198.51.100.7", r.URL.Query().Get("ipAddress"))
			w.Write([]byte(`{"data": {"ipAddress": "198.51.100.7", "abuseConfidenceScore": 85, "totalReports": 3}}`))
		})

	rec, err := c.Check(context.Background(), "198.51.100.7")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.InDelta(t, 0.85, rec.Score, 0.0001)
	assert.Equal(t, 85, rec.Confidence)
}

func TestCheckUsesCache(t *testing.T) {
	calls := 0
	c, _ := testClient(t,
		&config.ReputationConfig{APIKey: "k", DailyLimit: 10, CacheTTL: time.Hour},
		func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Write([]byte(`{"data": {"abuseConfidenceScore": 40}}`))
		})

	for i := 0; i < 3; i++ {
		rec, err := c.Check(context.Background(), "198.51.100.7")
		require.NoError(t, err)
		require.NotNil(t, rec)
	}
	assert.Equal(t, 1, calls, "repeat lookups within the TTL must hit the cache")

	used, _ := c.Usage()
	assert.Equal(t, 1, used)
}

func TestCheckDailyLimit(t *testing.T) {
	c, _ := testClient(t,
		&config.ReputationConfig{APIKey: "k", DailyLimit: 2, CacheTTL: time.Hour},
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data": {"abuseConfidenceScore": 40}}`))
		})

	for _, ip := range []string{"198.51.100.1", "198.51.100.2"} {
		rec, err := c.Check(context.Background(), ip)
		require.NoError(t, err)
		require.NotNil(t, rec)
	}

	rec, err := c.Check(context.Background(), "198.51.100.3")
	assert.NoError(t, err)
	assert.Nil(t, rec, "lookups past the daily limit return nothing")
}

func TestCheckProviderFailureReturnsNil(t *testing.T) {
	c, _ := testClient(t,
		&config.ReputationConfig{APIKey: "k", DailyLimit: 5, CacheTTL: time.Hour},
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})

	rec, err := c.Check(context.Background(), "198.51.100.7")
	assert.NoError(t, err)
	assert.Nil(t, rec)

	used, _ := c.Usage()
	assert.Equal(t, 0, used, "failed calls must not consume the budget")
}

func TestScoreClamping(t *testing.T) {
	assert.Equal(t, 0.0, normalizeScore(-5))
	assert.Equal(t, 1.0, normalizeScore(150))
	assert.InDelta(t, 0.5, normalizeScore(50), 0.0001)
}
