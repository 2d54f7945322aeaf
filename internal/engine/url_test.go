package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a"},
		{"strips default http port", "http://example.com:80/a", "http://example.com/a"},
		{"keeps custom port", "http://example.com:8080/a", "http://example.com:8080/a"},
		{"drops fragment", "https://example.com/a#section", "https://example.com/a"},
		{"sorts query params", "https://example.com/a?z=1&a=2", "https://example.com/a?a=2&z=1"},
		{"empty path becomes slash", "https://example.com", "https://example.com/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURLEquivalentForms(t *testing.T) {
	a, err := NormalizeURL("HTTP://Example.com:80/list?b=2&a=1#top")
	require.NoError(t, err)
	b, err := NormalizeURL("http://example.com/list?a=1&b=2")
	require.NoError(t, err)
	require.Equal(t, b, a)
}

func TestNormalizeURLRejects(t *testing.T) {
	for _, in := range []string{"", "example.com/path", "https://", "://bad"} {
		_, err := NormalizeURL(in)
		require.Error(t, err, "input %q", in)
	}
}
