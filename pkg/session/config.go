package session

import (
	"github.com/harunnryd/interpret/pkg/errorsx"
)

// Provider identifies one of the supported realtime speech-translation vendors.
type Provider string

const (
	ProviderOpenAI        Provider = "openai"
	ProviderVolcengineST  Provider = "volcengine_st"
	ProviderVolcengineAST Provider = "volcengine_ast2"
	ProviderPalabra       Provider = "palabraai"
)

// SupportedProviders lists every provider the factory can dispatch on.
var SupportedProviders = []Provider{
	ProviderOpenAI,
	ProviderVolcengineST,
	ProviderVolcengineAST,
	ProviderPalabra,
}

// IsValidProvider reports whether the string names a supported provider.
func IsValidProvider(p string) bool {
	for _, s := range SupportedProviders {
		if string(s) == p {
			return true
		}
	}
	return false
}

// Config is the provider-tagged session configuration union. A Config is
// immutable once handed to Connect; partial updates flow through Merge on a
// copy held by the adapter.
type Config interface {
	Provider() Provider
	Validate() error
}

// TurnDetectionType selects the server-side turn detection policy.
type TurnDetectionType string

const (
	TurnDetectionServerVAD   TurnDetectionType = "server_vad"
	TurnDetectionSemanticVAD TurnDetectionType = "semantic_vad"
	TurnDetectionNone        TurnDetectionType = "none"
)

// TurnDetection configures voice-activity based turn taking.
type TurnDetection struct {
	Type              TurnDetectionType
	Threshold         float64
	PrefixPaddingMs   int
	SilenceDurationMs int
	Eagerness         string
	CreateResponse    *bool
	InterruptResponse *bool
}

// OpenAIConfig configures a realtime session against the OpenAI-style
// JSON event protocol, over either WebSocket or WebRTC transport.
type OpenAIConfig struct {
	Model                string
	Voice                string
	Instructions         string
	Temperature          float64
	MaxTokens            int
	MaxTokensUnlimited   bool
	TextOnly             bool
	TurnDetection        *TurnDetection
	TranscriptionModel   string
	NoiseReductionType   string
}

func (c *OpenAIConfig) Provider() Provider { return ProviderOpenAI }

func (c *OpenAIConfig) Validate() error {
	if c.Model == "" {
		return errorsx.New(errorsx.ReasonConfigMissing, "openai session config: model is required")
	}
	return nil
}

// Merge applies non-zero fields from patch onto a copy of c.
func (c *OpenAIConfig) Merge(patch *OpenAIConfig) *OpenAIConfig {
	out := *c
	if patch == nil {
		return &out
	}
	if patch.Model != "" {
		out.Model = patch.Model
	}
	if patch.Voice != "" {
		out.Voice = patch.Voice
	}
	if patch.Instructions != "" {
		out.Instructions = patch.Instructions
	}
	if patch.Temperature != 0 {
		out.Temperature = patch.Temperature
	}
	if patch.MaxTokens != 0 {
		out.MaxTokens = patch.MaxTokens
	}
	if patch.MaxTokensUnlimited {
		out.MaxTokensUnlimited = true
	}
	if patch.TurnDetection != nil {
		out.TurnDetection = patch.TurnDetection
	}
	if patch.TranscriptionModel != "" {
		out.TranscriptionModel = patch.TranscriptionModel
	}
	if patch.NoiseReductionType != "" {
		out.NoiseReductionType = patch.NoiseReductionType
	}
	return &out
}

// HotWord biases recognition toward a domain term.
type HotWord struct {
	Word  string
	Scale float64
}

// VolcengineSTConfig configures the signed raw-WebSocket speech translation
// protocol. The configuration frame is sent once on open and cannot be
// updated mid-session.
type VolcengineSTConfig struct {
	SourceLanguage  string
	TargetLanguages []string
	HotWords        []HotWord
}

func (c *VolcengineSTConfig) Provider() Provider { return ProviderVolcengineST }

func (c *VolcengineSTConfig) Validate() error {
	if c.SourceLanguage == "" {
		return errorsx.New(errorsx.ReasonConfigMissing, "volcengine st session config: sourceLanguage is required")
	}
	if len(c.TargetLanguages) == 0 {
		return errorsx.New(errorsx.ReasonConfigMissing, "volcengine st session config: targetLanguages is required")
	}
	return nil
}

// VolcengineASTConfig configures the binary protobuf speech-to-speech
// translation protocol.
type VolcengineASTConfig struct {
	SourceLanguage string
	TargetLanguage string
	SpeakerID      string
	Denoise        bool
}

func (c *VolcengineASTConfig) Provider() Provider { return ProviderVolcengineAST }

func (c *VolcengineASTConfig) Validate() error {
	if c.SourceLanguage == "" {
		return errorsx.New(errorsx.ReasonConfigMissing, "volcengine ast session config: sourceLanguage is required")
	}
	if c.TargetLanguage == "" {
		return errorsx.New(errorsx.ReasonConfigMissing, "volcengine ast session config: targetLanguage is required")
	}
	return nil
}

// PalabraConfig configures the WebRTC media-room translation pipeline.
type PalabraConfig struct {
	SourceLanguage string
	TargetLanguage string
	VoiceID        string

	SegmentConfirmationSilenceThreshold float64
	SentenceSplitterEnabled             bool
	TranslatePartialTranscriptions      bool

	DesiredQueueLevelMs int
	MaxQueueLevelMs     int
	AutoTempo           bool
}

func (c *PalabraConfig) Provider() Provider { return ProviderPalabra }

func (c *PalabraConfig) Validate() error {
	if c.SourceLanguage == "" {
		return errorsx.New(errorsx.ReasonConfigMissing, "palabra session config: sourceLanguage is required")
	}
	if c.TargetLanguage == "" {
		return errorsx.New(errorsx.ReasonConfigMissing, "palabra session config: targetLanguage is required")
	}
	if c.VoiceID == "" {
		return errorsx.New(errorsx.ReasonConfigMissing, "palabra session config: voiceId is required")
	}
	return nil
}

// Merge applies non-zero fields from patch onto a copy of c.
func (c *PalabraConfig) Merge(patch *PalabraConfig) *PalabraConfig {
	out := *c
	if patch == nil {
		return &out
	}
	if patch.SourceLanguage != "" {
		out.SourceLanguage = patch.SourceLanguage
	}
	if patch.TargetLanguage != "" {
		out.TargetLanguage = patch.TargetLanguage
	}
	if patch.VoiceID != "" {
		out.VoiceID = patch.VoiceID
	}
	if patch.SegmentConfirmationSilenceThreshold != 0 {
		out.SegmentConfirmationSilenceThreshold = patch.SegmentConfirmationSilenceThreshold
	}
	if patch.DesiredQueueLevelMs != 0 {
		out.DesiredQueueLevelMs = patch.DesiredQueueLevelMs
	}
	if patch.MaxQueueLevelMs != 0 {
		out.MaxQueueLevelMs = patch.MaxQueueLevelMs
	}
	return &out
}

// AsOpenAI type-guards a Config to the OpenAI variant.
func AsOpenAI(c Config) (*OpenAIConfig, bool) {
	v, ok := c.(*OpenAIConfig)
	return v, ok
}

// AsVolcengineST type-guards a Config to the signed raw-WebSocket variant.
func AsVolcengineST(c Config) (*VolcengineSTConfig, bool) {
	v, ok := c.(*VolcengineSTConfig)
	return v, ok
}

// AsVolcengineAST type-guards a Config to the binary protobuf variant.
func AsVolcengineAST(c Config) (*VolcengineASTConfig, bool) {
	v, ok := c.(*VolcengineASTConfig)
	return v, ok
}

// AsPalabra type-guards a Config to the media-room variant.
func AsPalabra(c Config) (*PalabraConfig, bool) {
	v, ok := c.(*PalabraConfig)
	return v, ok
}
