package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOrigins(t *testing.T) {
	assert.Nil(t, parseOrigins(""))
	assert.Equal(t, []string{"https://a.example", "https://b.example"},
		parseOrigins(" https://a.example, ,https://b.example "))
	assert.Empty(t, parseOrigins("*"))
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed string
		origin  string
		want    bool
	}{
		{"no origin header", "https://a.example", "", true},
		{"allowed origin", "https://a.example", "https://a.example", true},
		{"foreign origin", "https://a.example", "https://evil.example", false},
		{"nothing configured", "", "https://anything.example", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewWSHandler(nil, nil, tt.allowed)
			r := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, h.checkOrigin(r))
		})
	}
}
