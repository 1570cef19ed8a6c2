package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_PerClientBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 2, false)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, 2, rl.Clients())

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 0, false)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("a"))
	}
	assert.Equal(t, 0, rl.Clients())
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(5, 5, false)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("idle")
	now = now.Add(5 * time.Minute)
	rl.Allow("active")
	now = now.Add(6 * time.Minute)

	assert.Equal(t, 1, rl.Sweep(10*time.Minute))
	assert.Equal(t, 1, rl.Clients())
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:51234"
	assert.Equal(t, "10.0.0.5", clientKey(req, false))
	assert.Equal(t, "10.0.0.5", clientKey(req, true))

	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	assert.Equal(t, "10.0.0.5", clientKey(req, false), "forwarded header ignored without a trusted proxy")
	assert.Equal(t, "198.51.100.7", clientKey(req, true))

	req.Header.Del("X-Forwarded-For")
	req.RemoteAddr = "unix-socket"
	assert.Equal(t, "unix-socket", clientKey(req, false))
}
