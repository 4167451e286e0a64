package openai

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/harunnryd/interpret/pkg/errorsx"
	"github.com/harunnryd/interpret/pkg/session"
	"github.com/harunnryd/interpret/pkg/tokens"
	"github.com/harunnryd/interpret/pkg/transports"
	"github.com/harunnryd/interpret/pkg/transports/webrtc"
)

const (
	defaultHTTPHost  = "https://api.openai.com"
	eventChannelName = "oai-events"
)

// WebRTCOptions configures the WebRTC variant.
type WebRTCOptions struct {
	Options
	Host       string
	Tokens     *tokens.Cache
	ICEServers []string
	HTTPClient *http.Client

	// Dial is replaceable for tests; nil negotiates a real peer
	// connection.
	Dial func(ctx context.Context, cfg webrtc.Config, signal webrtc.SignalFunc) (transports.Conn, error)
}

// NewWebRTCClient builds a client speaking the realtime protocol over a
// negotiated data channel. Authentication uses an ephemeral token minted
// through the token cache; the long-lived key never reaches the SDP
// exchange.
func NewWebRTCClient(o WebRTCOptions) *Client {
	host := strings.TrimRight(o.Host, "/")
	if host == "" {
		host = defaultHTTPHost
	}
	httpClient := o.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	dialPeer := o.Dial
	if dialPeer == nil {
		dialPeer = webrtc.Dial
	}

	dial := func(ctx context.Context, cfg *session.OpenAIConfig) (transports.Conn, error) {
		if o.Tokens == nil {
			return nil, errorsx.New(errorsx.ReasonConfigMissing, "openai: token cache is required for the webrtc transport")
		}
		token, err := o.Tokens.Get(ctx, host, cfg.Model, cfg.Voice)
		if err != nil {
			return nil, err
		}
		signal := func(ctx context.Context, offerSDP string) (string, error) {
			endpoint := host + "/v1/realtime?model=" + url.QueryEscape(cfg.Model)
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offerSDP))
			if err != nil {
				return "", err
			}
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set("Content-Type", "application/sdp")
			resp, err := httpClient.Do(req)
			if err != nil {
				return "", errorsx.Wrap(err, errorsx.ReasonSignalingFailure)
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return "", errorsx.Wrap(err, errorsx.ReasonSignalingFailure)
			}
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				// The ephemeral token may have just expired; drop it so
				// the next attempt mints fresh.
				o.Tokens.Clear()
				return "", errorsx.New(errorsx.ReasonAuthExpired, "sdp exchange rejected: status %d", resp.StatusCode)
			}
			if resp.StatusCode >= 300 {
				return "", errorsx.New(errorsx.ReasonSignalingFailure, "sdp exchange failed: status %d: %s", resp.StatusCode, body)
			}
			return string(body), nil
		}
		return dialPeer(ctx, webrtc.Config{
			DataChannelLabel: eventChannelName,
			ICEServers:       o.ICEServers,
		}, signal)
	}
	return newClient("webrtc", dial, o.Options)
}
