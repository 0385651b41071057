package main

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxySetClientIP(t *testing.T) {
	proxies, err := newProxySet([]string{"10.0.0.0/8", "192.168.1.10", "2001:db8::1"})
	require.NoError(t, err)

	tests := []struct {
		name      string
		remote    string
		forwarded string
		want      string
	}{
		{"untrusted peer ignores header", "203.0.113.7:4000", "198.51.100.1", "203.0.113.7"},
		{"untrusted peer without header", "203.0.113.7:4000", "", "203.0.113.7"},
		{"trusted cidr peer", "10.1.2.3:4000", "198.51.100.1", "198.51.100.1"},
		{"trusted single ip peer", "192.168.1.10:4000", "198.51.100.1", "198.51.100.1"},
		{"trusted ipv6 peer", "[2001:db8::1]:4000", "198.51.100.1", "198.51.100.1"},
		{"spoofed left-most entry", "10.1.2.3:4000", "1.2.3.4, 198.51.100.1", "198.51.100.1"},
		{"skips trusted hops", "10.1.2.3:4000", "198.51.100.1, 10.9.9.9", "198.51.100.1"},
		{"trusted peer without header", "10.1.2.3:4000", "", "10.1.2.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/health", nil)
			req.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, proxies.clientIP(req))
		})
	}
}

func TestProxySetEmptyTrustsNothing(t *testing.T) {
	var proxies proxySet

	req := httptest.NewRequest("GET", "/health", nil)
	req.RemoteAddr = "127.0.0.1:9000"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")

	assert.Equal(t, "127.0.0.1", proxies.clientIP(req))
}

func TestNewProxySetRejectsGarbage(t *testing.T) {
	_, err := newProxySet([]string{"proxy.internal"})
	assert.Error(t, err)
}
