package openai

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/harunnryd/interpret/pkg/errorsx"
	"github.com/harunnryd/interpret/pkg/session"
	"github.com/harunnryd/interpret/pkg/transports"
)

const defaultWSHost = "wss://api.openai.com"

// WebSocketOptions configures the WebSocket variant.
type WebSocketOptions struct {
	Options
	Host   string
	APIKey string

	// Dialer is replaceable for tests; nil means the gorilla dialer.
	Dialer transports.Dialer
}

// NewWebSocketClient builds a client speaking the realtime protocol over a
// WebSocket authenticated with the long-lived API key.
func NewWebSocketClient(o WebSocketOptions) *Client {
	host := strings.TrimRight(o.Host, "/")
	if host == "" {
		host = defaultWSHost
	}
	dialer := o.Dialer
	if dialer == nil {
		dialer = &transports.WebSocketDialer{}
	}
	dial := func(ctx context.Context, cfg *session.OpenAIConfig) (transports.Conn, error) {
		if o.APIKey == "" {
			return nil, errorsx.New(errorsx.ReasonConfigMissing, "openai: api key is required")
		}
		endpoint := host + "/v1/realtime?model=" + url.QueryEscape(cfg.Model)
		header := http.Header{}
		header.Set("Authorization", "Bearer "+o.APIKey)
		header.Set("OpenAI-Beta", "realtime=v1")
		return dialer.Dial(ctx, endpoint, header)
	}
	return newClient("ws", dial, o.Options)
}
