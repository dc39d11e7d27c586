package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tingly-dev/vertex-relay/internal/config"
)

func testProfiler(mode config.StreamingMode) *Profiler {
	return NewProfiler(&config.Config{
		StreamingMode:    mode,
		CollapseOrgs:     []string{"basebox"},
		CollapseProjects: []string{"gui"},
	})
}

func headers(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func TestProfileAutoDetection(t *testing.T) {
	p := testProfiler(config.StreamingAuto)

	cases := []struct {
		name string
		h    http.Header
		want Strategy
	}{
		{"curl", headers("User-Agent", "curl/8.4.0"), StrategyNonStream},
		{"wget", headers("User-Agent", "Wget/1.21"), StrategyNonStream},
		{"httpie", headers("User-Agent", "HTTPie/3.2.2"), StrategyNonStream},
		{"python-requests", headers("User-Agent", "python-requests/2.31"), StrategyNonStream},
		{"postman", headers("User-Agent", "PostmanRuntime/7.36"), StrategyNonStream},
		{"insomnia", headers("User-Agent", "insomnia/8.5"), StrategyNonStream},
		{"goose", headers("User-Agent", "Goose/1.0"), StrategyNonStream},
		{"thunderclient", headers("User-Agent", "ThunderClient/2.3"), StrategyNonStream},
		{"accept json only", headers("User-Agent", "MyApp/1.0", "Accept", "application/json"), StrategyNonStream},
		{"accept sse", headers("User-Agent", "MyApp/1.0", "Accept", "text/event-stream"), StrategyPassthrough},
		{"accept wildcard", headers("User-Agent", "MyApp/1.0", "Accept", "*/*"), StrategyPassthrough},
		{"no headers", headers("User-Agent", "MyApp/1.0"), StrategyPassthrough},
		{"browser", headers("User-Agent", "Mozilla/5.0 (Macintosh)"), StrategyBuffered},
		{"vscode", headers("User-Agent", "vscode-rest/1.0"), StrategyBuffered},
		{"org collapse", headers("User-Agent", "MyApp/1.0", "OpenAI-Organization", "BaseBox"), StrategyCollapse},
		{"org collapse substring", headers("User-Agent", "MyApp/1.0", "OpenAI-Organization", "team-basebox-dev"), StrategyCollapse},
		{"project collapse", headers("User-Agent", "MyApp/1.0", "OpenAI-Project", "my-GUI-app"), StrategyCollapse},
		{"unrelated org", headers("User-Agent", "MyApp/1.0", "OpenAI-Organization", "acme"), StrategyPassthrough},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, p.Profile(tc.h), tc.name)
	}
}

func TestProfileModeOverrides(t *testing.T) {
	browser := headers("User-Agent", "Mozilla/5.0")

	assert.Equal(t, StrategyNonStream, testProfiler(config.StreamingNonStream).Profile(browser))
	assert.Equal(t, StrategyPassthrough, testProfiler(config.StreamingStandard).Profile(browser))
	assert.Equal(t, StrategyBuffered, testProfiler(config.StreamingBuffered).Profile(headers("User-Agent", "curl/8.0")))
}

func TestProfileCollapseWinsOverMode(t *testing.T) {
	h := headers("User-Agent", "curl/8.0", "OpenAI-Organization", "basebox")
	for _, mode := range []config.StreamingMode{
		config.StreamingAuto,
		config.StreamingNonStream,
		config.StreamingStandard,
		config.StreamingBuffered,
	} {
		assert.Equal(t, StrategyCollapse, testProfiler(mode).Profile(h), mode)
	}
}

func TestProfileEmptyCollapseHeadersNeverMatch(t *testing.T) {
	p := testProfiler(config.StreamingAuto)
	assert.Equal(t, StrategyPassthrough, p.Profile(headers("User-Agent", "MyApp/1.0", "OpenAI-Organization", "")))
}
