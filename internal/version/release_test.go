package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckerLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "p12sign-version-check", r.Header.Get("User-Agent"))
		w.Write([]byte(`{"tag_name":"v1.4.0","html_url":"https://example.test/r/v1.4.0"}`))
	}))
	defer srv.Close()

	c := NewChecker(nil)
	c.URL = srv.URL
	rel, err := c.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Release{Tag: "v1.4.0", URL: "https://example.test/r/v1.4.0"}, rel)
}

func TestCheckerLatestFailures(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusForbidden)
		},
		"missing tag": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"html_url":"x"}`))
		},
		"bad json": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{`))
		},
	}
	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			c := NewChecker(nil)
			c.URL = srv.URL
			_, err := c.Latest(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestCheckerDefaultsReleasePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tag_name":"v0.1.0"}`))
	}))
	defer srv.Close()
	c := NewChecker(nil)
	c.URL = srv.URL
	rel, err := c.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReleasePageURL, rel.URL)
}
