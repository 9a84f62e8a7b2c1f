package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNewerVersion(t *testing.T) {
	assert.True(t, isNewerVersion("v1.2.0", "1.1.9"))
	assert.True(t, isNewerVersion("2.0.0", "v1.10.0"))
	assert.False(t, isNewerVersion("1.1.0", "1.1.0"))
	assert.False(t, isNewerVersion("1.0.0", "1.1.0"))
}

func TestVersionCheckerCheck(t *testing.T) {
	var etags []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/"+githubRepo+"/releases/latest", r.URL.Path)
		etags = append(etags, r.Header.Get("If-None-Match"))
		if r.Header.Get("If-None-Match") == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		_, _ = w.Write([]byte(`{"tag_name":"v9.1.0","draft":false,"prerelease":false}`))
	}))
	defer srv.Close()

	vc := newVersionChecker(srv.URL)
	assert.True(t, vc.check())
	assert.True(t, vc.check())

	assert.Equal(t, []string{"", `"abc"`}, etags)
	info := vc.Info()
	assert.Equal(t, "9.1.0", info.Latest)
}

func TestVersionCheckerRetriesOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	vc := newVersionChecker(srv.URL)
	assert.False(t, vc.check())
	assert.Empty(t, vc.Info().Latest)
}

func TestFormatBuildTime(t *testing.T) {
	assert.Equal(t, "unknown", formatBuildTime("unknown"))
	assert.NotEqual(t, "2026-01-02T15:04:05Z", formatBuildTime("2026-01-02T15:04:05Z"))
}
