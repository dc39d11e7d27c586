// Package provider resolves upstream endpoint coordinates and the auth
// strategy attached to them.
package provider

import (
	"fmt"
	"strings"

	"github.com/tingly-dev/vertex-relay/internal/auth"
	"github.com/tingly-dev/vertex-relay/internal/config"
	"github.com/tingly-dev/vertex-relay/internal/typ"
)

// Vertex endpoint method suffixes.
const (
	suffixRawPredict       = ":rawPredict"
	suffixStreamRawPredict = ":streamRawPredict"
)

// Backend is one configured upstream target.
type Backend interface {
	// ID returns the backend family name, used in logs and /health.
	ID() string
	// RequestURL returns the full endpoint URL for the given delivery mode.
	RequestURL(streaming bool) string
	// DisplayModel is the model name reported to clients.
	DisplayModel() string
	// Auth returns the token source minting bearer tokens for requests.
	Auth() auth.TokenSource
}

// New constructs the backend described by cfg.
func New(cfg *config.Config) (Backend, error) {
	switch cfg.Provider {
	case config.ProviderVertex:
		return newVertex(cfg)
	case config.ProviderOpenAICompatible:
		return newOpenAICompatible(cfg)
	}
	return nil, typ.ConfigError("unknown provider %q", cfg.Provider)
}

// Vertex targets a Google Vertex AI publisher-model endpoint.
type Vertex struct {
	base    string
	display string
	tokens  auth.TokenSource
}

func newVertex(cfg *config.Config) (*Vertex, error) {
	base := cfg.URL
	if base == "" {
		region := cfg.Region
		if region == "" {
			region = cfg.Location
		}
		base = fmt.Sprintf(
			"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/%s/models/%s",
			region, cfg.ProjectID, cfg.Location, cfg.Publisher, cfg.ModelID,
		)
	}
	// A configured URL may already carry a method suffix; strip it so the
	// dispatcher's delivery mode always decides.
	base = strings.TrimSuffix(base, suffixRawPredict)
	base = strings.TrimSuffix(base, suffixStreamRawPredict)

	keyJSON, err := cfg.CredentialsJSON()
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewGCPTokenSource(keyJSON)
	if err != nil {
		return nil, err
	}

	return &Vertex{
		base:    base,
		display: displayModel(cfg),
		tokens:  tokens,
	}, nil
}

func (v *Vertex) ID() string { return "vertex" }

func (v *Vertex) RequestURL(streaming bool) string {
	if streaming {
		return v.base + suffixStreamRawPredict
	}
	return v.base + suffixRawPredict
}

func (v *Vertex) DisplayModel() string { return v.display }

func (v *Vertex) Auth() auth.TokenSource { return v.tokens }

// OpenAICompatible targets an Anthropic-messages endpoint guarded by a
// static bearer, for upstreams that mirror the Vertex wire shape.
type OpenAICompatible struct {
	url     string
	display string
	tokens  auth.TokenSource
}

func newOpenAICompatible(cfg *config.Config) (*OpenAICompatible, error) {
	return &OpenAICompatible{
		url:     cfg.URL,
		display: displayModel(cfg),
		tokens:  auth.StaticTokenSource(cfg.APIKey),
	}, nil
}

func (o *OpenAICompatible) ID() string { return "openai" }

func (o *OpenAICompatible) RequestURL(bool) string { return o.url }

func (o *OpenAICompatible) DisplayModel() string { return o.display }

func (o *OpenAICompatible) Auth() auth.TokenSource { return o.tokens }

// displayModel picks the client-facing model name: explicit override, else
// the model id with its @revision stripped, else a generic fallback.
func displayModel(cfg *config.Config) string {
	if cfg.ModelDisplayName != "" {
		return cfg.ModelDisplayName
	}
	if cfg.ModelID != "" {
		name, _, _ := strings.Cut(cfg.ModelID, "@")
		return name
	}
	return "claude"
}
