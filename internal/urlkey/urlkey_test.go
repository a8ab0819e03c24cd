package urlkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{
			name: "keeps scheme and strips default port",
			raw:  "http://Example.com:80/Path/",
			want: "http://example.com/Path",
		},
		{
			name: "strips tracking params and sorts the rest",
			raw:  "https://example.com/x?b=2&utm_source=x&a=1",
			want: "https://example.com/x?a=1&b=2",
		},
		{
			name: "drops fragment and collapses dot-segments",
			raw:  "https://example.com/a/../b/#frag",
			want: "https://example.com/b",
		},
		{
			name:    "empty is rejected",
			raw:     "",
			wantErr: true,
		},
		{
			name:    "missing scheme is rejected",
			raw:     "example.com/x",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHash(t *testing.T) {
	h1, err := Hash("http://example.com/x?utm_source=a")
	require.NoError(t, err)
	h2, err := Hash("http://EXAMPLE.com:80/x")
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "equivalent URLs must hash identically")
	assert.Len(t, h1, 64)
}

func TestKey(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "registered domain under public suffix", raw: "https://www.example.co.uk/x", want: "example.co.uk"},
		{name: "plain domain", raw: "https://a.com/x", want: "a.com"},
		{name: "subdomain collapses to registered domain", raw: "https://blog.a.com/x", want: "a.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Key(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
