package server

import (
	"net/http"
	"strings"

	"github.com/tingly-dev/vertex-relay/internal/config"
)

// Strategy is the per-request response delivery plan.
type Strategy int

const (
	// StrategyPassthrough forwards translated SSE frames as they arrive.
	StrategyPassthrough Strategy = iota
	// StrategyBuffered coalesces small text deltas before flushing.
	StrategyBuffered
	// StrategyNonStream performs a non-streaming exchange and returns JSON.
	StrategyNonStream
	// StrategyCollapse performs a non-streaming exchange but replays it as
	// a short SSE sequence, for clients that request streaming yet cannot
	// parse incremental deltas.
	StrategyCollapse
)

func (s Strategy) String() string {
	switch s {
	case StrategyBuffered:
		return "buffered"
	case StrategyNonStream:
		return "nonstream"
	case StrategyCollapse:
		return "collapse"
	}
	return "passthrough"
}

// cliAgents identifies terminal tools that render SSE poorly; they get the
// complete JSON response instead.
var cliAgents = []string{
	"curl",
	"wget",
	"httpie",
	"python-requests",
	"postman",
	"insomnia",
	"thunderclient",
	"goose",
}

// Profiler inspects request headers and picks a delivery strategy.
type Profiler struct {
	mode             config.StreamingMode
	collapseOrgs     []string
	collapseProjects []string
}

// NewProfiler builds a profiler from the configured streaming mode and
// collapse header value sets.
func NewProfiler(cfg *config.Config) *Profiler {
	return &Profiler{
		mode:             cfg.StreamingMode,
		collapseOrgs:     lowerAll(cfg.CollapseOrgs),
		collapseProjects: lowerAll(cfg.CollapseProjects),
	}
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// Profile picks the delivery strategy from the request headers alone.
// Collapse wins regardless of the configured mode; a fixed mode overrides
// detection; Auto falls back to header heuristics.
func (p *Profiler) Profile(h http.Header) Strategy {
	if p.matchesCollapse(h) {
		return StrategyCollapse
	}

	switch p.mode {
	case config.StreamingNonStream:
		return StrategyNonStream
	case config.StreamingStandard:
		return StrategyPassthrough
	case config.StreamingBuffered:
		return StrategyBuffered
	}

	if isCLIClient(h.Get("User-Agent")) || !acceptsSSE(h.Get("Accept")) {
		return StrategyNonStream
	}
	if isInteractiveClient(h.Get("User-Agent")) {
		return StrategyBuffered
	}
	return StrategyPassthrough
}

func (p *Profiler) matchesCollapse(h http.Header) bool {
	org := strings.ToLower(h.Get("OpenAI-Organization"))
	for _, v := range p.collapseOrgs {
		if org != "" && strings.Contains(org, v) {
			return true
		}
	}
	project := strings.ToLower(h.Get("OpenAI-Project"))
	for _, v := range p.collapseProjects {
		if project != "" && strings.Contains(project, v) {
			return true
		}
	}
	return false
}

func isCLIClient(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, agent := range cliAgents {
		if strings.Contains(ua, agent) {
			return true
		}
	}
	return false
}

// isInteractiveClient spots browsers and IDE plugins whose consumers render
// better with fewer, larger frames.
func isInteractiveClient(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, agent := range []string{"mozilla", "vscode", "jetbrains", "intellij"} {
		if strings.Contains(ua, agent) {
			return true
		}
	}
	return false
}

// acceptsSSE reports whether the Accept header admits text/event-stream.
// An absent header is treated as accepting anything.
func acceptsSSE(accept string) bool {
	if accept == "" {
		return true
	}
	lower := strings.ToLower(accept)
	return strings.Contains(lower, "text/event-stream") || strings.Contains(lower, "*/*")
}
