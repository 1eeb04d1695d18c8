package authhttp

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultClientIP(t *testing.T) {
	fn := DefaultClientIP()

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:5555"
	require.Equal(t, "203.0.113.9", fn(r))

	r.RemoteAddr = "10.1.2.3:5555"
	require.Empty(t, fn(r))

	r.RemoteAddr = "garbage"
	require.Empty(t, fn(r))
}

func TestClientIPFromForwardedHeaders(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", " ", "192.168.1.1"})
	require.NoError(t, err)
	require.Len(t, proxies, 2)
	fn := ClientIPFromForwardedHeaders(proxies)

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.5:443"
	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.9")
	require.Equal(t, "198.51.100.7", fn(r))

	r.Header.Set("CF-Connecting-IP", "203.0.113.4")
	require.Equal(t, "203.0.113.4", fn(r))

	// Untrusted peers cannot spoof the header.
	r.RemoteAddr = "198.51.100.200:443"
	require.Equal(t, "198.51.100.200", fn(r))

	r = httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.168.1.1:80"
	r.Header.Set("X-Forwarded-For", "127.0.0.1")
	require.Empty(t, fn(r))
}

func TestParseTrustedProxies_Invalid(t *testing.T) {
	_, err := ParseTrustedProxies([]string{"10.0.0.0/99"})
	require.Error(t, err)
	_, err = ParseTrustedProxies([]string{"proxy.local"})
	require.Error(t, err)
}
