package interpret

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/harunnryd/interpret/pkg/adapters"
	"github.com/harunnryd/interpret/pkg/audio"
	"github.com/harunnryd/interpret/pkg/billing"
	"github.com/harunnryd/interpret/pkg/configutil"
	"github.com/harunnryd/interpret/pkg/errorsx"
	"github.com/harunnryd/interpret/pkg/logging"
	"github.com/harunnryd/interpret/pkg/providers/openai"
	"github.com/harunnryd/interpret/pkg/providers/palabra"
	"github.com/harunnryd/interpret/pkg/providers/volcengine"
	"github.com/harunnryd/interpret/pkg/session"
	"github.com/harunnryd/interpret/pkg/tokens"
)

// Factory builds provider clients from one loaded Config. The ephemeral
// token cache is shared across clients so reconnects reuse live tokens.
type Factory struct {
	cfg Config
	log *slog.Logger

	reporter billing.Reporter
	encoder  audio.Encoder
	decoder  audio.Decoder
	sink     audio.OutputSink

	mu     sync.Mutex
	tokens *tokens.Cache
}

// FactoryOption tweaks collaborators the config file cannot express.
type FactoryOption func(*Factory)

// WithLogger overrides the logger built from the config.
func WithLogger(log *slog.Logger) FactoryOption {
	return func(f *Factory) { f.log = log }
}

// WithUsageReporter overrides the billing reporter built from the config.
func WithUsageReporter(r billing.Reporter) FactoryOption {
	return func(f *Factory) { f.reporter = r }
}

// WithAudioEncoder supplies the encoder media-track providers need for
// outbound audio.
func WithAudioEncoder(enc audio.Encoder) FactoryOption {
	return func(f *Factory) { f.encoder = enc }
}

// WithAudioPlayback routes synthesized speech through the decoder into
// the playback sink on providers that return compressed audio.
func WithAudioPlayback(dec audio.Decoder, sink audio.OutputSink) FactoryOption {
	return func(f *Factory) {
		f.decoder = dec
		f.sink = sink
	}
}

func NewFactory(cfg Config, opts ...FactoryOption) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	f := &Factory{cfg: cfg}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = logging.InitLoggerWithFormat(cfg.LogLevelValue(), cfg.LogFormat)
	}
	if f.reporter == nil && cfg.Billing.Endpoint != "" {
		f.reporter = &billing.HTTPReporter{
			URL:   cfg.Billing.Endpoint,
			Token: cfg.Billing.Token,
		}
	}
	return f, nil
}

// sessionSchemas catches key typos in the free-form session block before
// weak decoding silently drops them.
var sessionSchemas = map[session.Provider]configutil.Schema{
	session.ProviderOpenAI: {
		Required: []string{"model"},
		Optional: []string{
			"voice", "instructions", "temperature", "max_tokens",
			"max_tokens_unlimited", "text_only", "turn_detection",
			"transcription_model", "noise_reduction_type",
		},
	},
	session.ProviderVolcengineST: {
		Required: []string{"source_language", "target_languages"},
		Optional: []string{"hot_words"},
	},
	session.ProviderVolcengineAST: {
		Required: []string{"source_language", "target_language"},
		Optional: []string{"speaker_id", "denoise"},
	},
	session.ProviderPalabra: {
		Required: []string{"source_language", "target_language", "voice_id"},
		Optional: []string{
			"segment_confirmation_silence_threshold",
			"sentence_splitter_enabled", "translate_partial_transcriptions",
			"desired_queue_level_ms", "max_queue_level_ms", "auto_tempo",
		},
	},
}

// SessionConfig decodes the free-form session block into the typed config
// for the configured provider.
func (f *Factory) SessionConfig() (session.Config, error) {
	provider := session.Provider(f.cfg.Provider)
	schema, ok := sessionSchemas[provider]
	if !ok {
		return nil, errorsx.New(errorsx.ReasonConfigProvider, "unknown provider: %s", f.cfg.Provider)
	}
	if err := configutil.ValidateSettings(f.cfg.Session, schema); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}

	var (
		cfg session.Config
		err error
	)
	switch provider {
	case session.ProviderOpenAI:
		out := &session.OpenAIConfig{}
		err = configutil.DecodeSettings(f.cfg.Session, out)
		cfg = out
	case session.ProviderVolcengineST:
		out := &session.VolcengineSTConfig{}
		err = configutil.DecodeSettings(f.cfg.Session, out)
		cfg = out
	case session.ProviderVolcengineAST:
		out := &session.VolcengineASTConfig{}
		err = configutil.DecodeSettings(f.cfg.Session, out)
		cfg = out
	case session.ProviderPalabra:
		out := &session.PalabraConfig{}
		err = configutil.DecodeSettings(f.cfg.Session, out)
		cfg = out
	}
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	return cfg, nil
}

// NewClient builds a fresh adapter for the configured provider and
// transport. Every call returns an independent client.
func (f *Factory) NewClient() (adapters.Client, error) {
	provider := session.Provider(f.cfg.Provider)
	if f.cfg.Transport == TransportWebRTC && provider != session.ProviderOpenAI {
		return nil, errorsx.New(errorsx.ReasonConfigInvalid,
			"provider %s does not support the %s transport", f.cfg.Provider, f.cfg.Transport)
	}
	creds := f.cfg.Credentials
	switch provider {
	case session.ProviderOpenAI:
		base := openai.Options{
			Logger:        f.log,
			UsageReporter: f.reporter,
			SubjectID:     f.cfg.SubjectID,
		}
		if f.cfg.Transport == TransportWebRTC {
			return openai.NewWebRTCClient(openai.WebRTCOptions{
				Options: base,
				Host:    creds.OpenAI.Host,
				Tokens:  f.tokenCache(),
			}), nil
		}
		return openai.NewWebSocketClient(openai.WebSocketOptions{
			Options: base,
			APIKey:  creds.OpenAI.APIKey,
		}), nil

	case session.ProviderVolcengineST:
		return volcengine.NewSTClient(volcengine.STOptions{
			AccessKeyID:     creds.Volcengine.AccessKeyID,
			SecretAccessKey: creds.Volcengine.SecretAccessKey,
			Logger:          f.log,
			UsageReporter:   f.reporter,
			SubjectID:       f.cfg.SubjectID,
		}), nil

	case session.ProviderVolcengineAST:
		return volcengine.NewASTClient(volcengine.ASTOptions{
			AppKey:        creds.Volcengine.AppKey,
			AccessKey:     creds.Volcengine.AccessKey,
			ResourceID:    creds.Volcengine.ResourceID,
			UID:           creds.Volcengine.UID,
			Platform:      creds.Volcengine.Platform,
			Decoder:       f.decoder,
			Sink:          f.sink,
			Logger:        f.log,
			UsageReporter: f.reporter,
			SubjectID:     f.cfg.SubjectID,
		}), nil

	case session.ProviderPalabra:
		return palabra.NewClient(palabra.Options{
			ClientID:      creds.Palabra.ClientID,
			ClientSecret:  creds.Palabra.ClientSecret,
			APIHost:       creds.Palabra.APIHost,
			Encoder:       f.encoder,
			Logger:        f.log,
			UsageReporter: f.reporter,
			SubjectID:     f.cfg.SubjectID,
		}), nil
	}
	return nil, errorsx.New(errorsx.ReasonConfigProvider, "unknown provider: %s", f.cfg.Provider)
}

// ValidateCredentials performs the configured provider's cheap
// authenticated probe before any realtime session is attempted.
func (f *Factory) ValidateCredentials(ctx context.Context) error {
	creds := f.cfg.Credentials
	switch session.Provider(f.cfg.Provider) {
	case session.ProviderOpenAI:
		return openai.ValidateCredentials(ctx, creds.OpenAI.Host, creds.OpenAI.APIKey, nil)
	case session.ProviderVolcengineST:
		return volcengine.ValidateCredentials(ctx, creds.Volcengine.AccessKeyID, creds.Volcengine.SecretAccessKey, "", nil)
	case session.ProviderVolcengineAST:
		if creds.Volcengine.AppKey == "" || creds.Volcengine.AccessKey == "" {
			return errorsx.New(errorsx.ReasonConfigMissing, "volcengine ast: app key pair is required")
		}
		// The AST service authenticates on the socket upgrade itself;
		// there is no cheaper probe than connecting.
		return nil
	case session.ProviderPalabra:
		return palabra.ValidateCredentials(ctx, creds.Palabra.APIHost, creds.Palabra.ClientID, creds.Palabra.ClientSecret, nil)
	}
	return errorsx.New(errorsx.ReasonConfigProvider, "unknown provider: %s", f.cfg.Provider)
}

func (f *Factory) tokenCache() *tokens.Cache {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokens == nil {
		f.tokens = tokens.NewCache(&tokens.HTTPFetcher{
			APIKey: f.cfg.Credentials.OpenAI.APIKey,
			Client: http.DefaultClient,
		})
	}
	return f.tokens
}
