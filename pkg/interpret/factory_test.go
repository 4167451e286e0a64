package interpret

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/harunnryd/interpret/pkg/errorsx"
	"github.com/harunnryd/interpret/pkg/session"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaultsAndEnvExpansion(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-from-env")
	path := writeConfig(t, `
provider: openai
subject_id: user-1
credentials:
  openai:
    api_key: ${TEST_OPENAI_KEY}
session:
  model: gpt-4o-realtime-preview
  voice: alloy
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transport != TransportWebSocket {
		t.Fatalf("default transport not applied: %q", cfg.Transport)
	}
	if cfg.LogFormat != "json" || cfg.LogLevel != "info" {
		t.Fatalf("log defaults not applied: %q %q", cfg.LogFormat, cfg.LogLevel)
	}
	if cfg.Credentials.OpenAI.APIKey != "sk-from-env" {
		t.Fatalf("env expansion failed: %q", cfg.Credentials.OpenAI.APIKey)
	}
}

func TestLoadConfigRejectsUnknownProvider(t *testing.T) {
	path := writeConfig(t, "provider: acme\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("unknown provider must fail validation")
	}
}

func TestLoadConfigRejectsUnknownTransport(t *testing.T) {
	path := writeConfig(t, "provider: openai\ntransport: carrier-pigeon\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("unknown transport must fail validation")
	}
}

func TestSessionConfigDecodesProviderBlock(t *testing.T) {
	f, err := NewFactory(Config{
		Provider: string(session.ProviderVolcengineST),
		Session: map[string]any{
			"source_language":  "zh",
			"target_languages": []any{"en", "ja"},
			"hot_words": []any{
				map[string]any{"word": "latte", "scale": 1.5},
			},
		},
	})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	cfg, err := f.SessionConfig()
	if err != nil {
		t.Fatalf("session config: %v", err)
	}
	st, ok := session.AsVolcengineST(cfg)
	if !ok {
		t.Fatalf("expected st config, got %T", cfg)
	}
	if st.SourceLanguage != "zh" || len(st.TargetLanguages) != 2 {
		t.Fatalf("decode mismatch: %+v", st)
	}
	if len(st.HotWords) != 1 || st.HotWords[0].Word != "latte" {
		t.Fatalf("hot words not decoded: %+v", st.HotWords)
	}
}

func TestSessionConfigRejectsUnknownKeys(t *testing.T) {
	f, err := NewFactory(Config{
		Provider: string(session.ProviderOpenAI),
		Session: map[string]any{
			"model":  "gpt-4o-realtime-preview",
			"voixce": "alloy",
		},
	})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if _, err := f.SessionConfig(); !errorsx.HasReason(err, errorsx.ReasonConfigInvalid) {
		t.Fatalf("typoed key must fail schema validation, got %v", err)
	}
}

func TestNewClientDispatchesOnProvider(t *testing.T) {
	cases := []struct {
		provider  string
		transport string
	}{
		{string(session.ProviderOpenAI), TransportWebSocket},
		{string(session.ProviderOpenAI), TransportWebRTC},
		{string(session.ProviderVolcengineST), ""},
		{string(session.ProviderVolcengineAST), ""},
		{string(session.ProviderPalabra), ""},
	}
	for _, tc := range cases {
		f, err := NewFactory(Config{Provider: tc.provider, Transport: tc.transport})
		if err != nil {
			t.Fatalf("%s factory: %v", tc.provider, err)
		}
		cl, err := f.NewClient()
		if err != nil {
			t.Fatalf("%s client: %v", tc.provider, err)
		}
		if string(cl.Provider()) != tc.provider {
			t.Fatalf("client reports %s, want %s", cl.Provider(), tc.provider)
		}
	}
}

func TestNewClientRejectsUnsupportedTransportPair(t *testing.T) {
	for _, provider := range []session.Provider{
		session.ProviderVolcengineST,
		session.ProviderVolcengineAST,
		session.ProviderPalabra,
	} {
		f, err := NewFactory(Config{Provider: string(provider), Transport: TransportWebRTC})
		if err != nil {
			t.Fatalf("%s factory: %v", provider, err)
		}
		if _, err := f.NewClient(); !errorsx.HasReason(err, errorsx.ReasonConfigInvalid) {
			t.Fatalf("%s with webrtc transport must be rejected, got %v", provider, err)
		}
	}
}

func TestNewFactoryRejectsUnknownProvider(t *testing.T) {
	_, err := NewFactory(Config{Provider: "acme"})
	if !errorsx.HasReason(err, errorsx.ReasonConfigInvalid) {
		t.Fatalf("expected invalid-config error, got %v", err)
	}
}

func TestSharedTokenCache(t *testing.T) {
	f, err := NewFactory(Config{
		Provider:  string(session.ProviderOpenAI),
		Transport: TransportWebRTC,
	})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if f.tokenCache() != f.tokenCache() {
		t.Fatalf("token cache must be shared across clients")
	}
}
