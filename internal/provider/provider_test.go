package provider

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tingly-dev/vertex-relay/internal/config"
)

func keyFile(t *testing.T) string {
	t.Helper()
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(rsaKey)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	raw, err := json.Marshal(map[string]string{
		"type":         "service_account",
		"client_email": "relay@p.iam.gserviceaccount.com",
		"private_key":  string(keyPEM),
		"token_uri":    "https://oauth2.googleapis.com/token",
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func TestVertexURLFromParts(t *testing.T) {
	cfg := &config.Config{
		Provider:        config.ProviderVertex,
		ProjectID:       "my-proj",
		Location:        "us-east5",
		Publisher:       "anthropic",
		ModelID:         "claude-sonnet-4@20250514",
		CredentialsPath: keyFile(t),
	}
	b, err := New(cfg)
	require.NoError(t, err)

	assert.Equal(t, "vertex", b.ID())
	assert.Equal(t,
		"https://us-east5-aiplatform.googleapis.com/v1/projects/my-proj/locations/us-east5/publishers/anthropic/models/claude-sonnet-4@20250514:rawPredict",
		b.RequestURL(false))
	assert.Equal(t,
		"https://us-east5-aiplatform.googleapis.com/v1/projects/my-proj/locations/us-east5/publishers/anthropic/models/claude-sonnet-4@20250514:streamRawPredict",
		b.RequestURL(true))
	assert.Equal(t, "claude-sonnet-4", b.DisplayModel())
}

func TestVertexRegionOverridesHost(t *testing.T) {
	cfg := &config.Config{
		Provider:        config.ProviderVertex,
		Region:          "europe-west1",
		ProjectID:       "p",
		Location:        "us-east5",
		Publisher:       "anthropic",
		ModelID:         "m",
		CredentialsPath: keyFile(t),
	}
	b, err := New(cfg)
	require.NoError(t, err)
	assert.Contains(t, b.RequestURL(false), "https://europe-west1-aiplatform.googleapis.com/")
	assert.Contains(t, b.RequestURL(false), "/locations/us-east5/")
}

func TestVertexExplicitURLStripsSuffix(t *testing.T) {
	for _, raw := range []string{
		"https://example.com/v1/models/m:rawPredict",
		"https://example.com/v1/models/m:streamRawPredict",
		"https://example.com/v1/models/m",
	} {
		cfg := &config.Config{
			Provider:        config.ProviderVertex,
			URL:             raw,
			CredentialsPath: keyFile(t),
		}
		b, err := New(cfg)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/v1/models/m:rawPredict", b.RequestURL(false), raw)
		assert.Equal(t, "https://example.com/v1/models/m:streamRawPredict", b.RequestURL(true), raw)
	}
}

func TestDisplayModelOverride(t *testing.T) {
	cfg := &config.Config{
		Provider:         config.ProviderVertex,
		ProjectID:        "p",
		ModelID:          "claude-sonnet-4@20250514",
		ModelDisplayName: "sonnet",
		Location:         "l",
		Publisher:        "anthropic",
		CredentialsPath:  keyFile(t),
	}
	b, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sonnet", b.DisplayModel())
}

func TestOpenAICompatible(t *testing.T) {
	cfg := &config.Config{
		Provider: config.ProviderOpenAICompatible,
		URL:      "https://api.example.com/v1/messages",
		APIKey:   "sk-1",
	}
	b, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "openai", b.ID())
	assert.Equal(t, "https://api.example.com/v1/messages", b.RequestURL(true))
	assert.Equal(t, "https://api.example.com/v1/messages", b.RequestURL(false))
	assert.Equal(t, "claude", b.DisplayModel())
}
