// Package palabra implements the media-room translation pipeline: a REST
// session handshake followed by a LiveKit room where task control and
// transcription events travel as reliable data messages.
package palabra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/harunnryd/interpret/pkg/errorsx"
	"github.com/harunnryd/interpret/pkg/resilience"
)

const defaultAPIHost = "https://api.palabra.ai"

// restClient wraps the session-storage endpoints.
type restClient struct {
	host         string
	clientID     string
	clientSecret string
	http         *http.Client
	retry        resilience.RetryPolicy
}

// sessionInfo is the created streaming session.
type sessionInfo struct {
	ID        string `json:"id"`
	Publisher string `json:"publisher"`
	WebRTCURL string `json:"webrtc_url"`
	WSURL     string `json:"ws_url"`
}

func (r *restClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errorsx.Wrap(err, errorsx.ReasonCodecEncode)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.host+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("ClientId", r.clientID)
	req.Header.Set("ClientSecret", r.clientSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := r.http
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errorsx.New(errorsx.ReasonAuthRejected, "%s %s rejected: status %d", method, path, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errorsx.New(errorsx.ReasonUpstreamStatus, "%s %s failed: status %d: %s", method, path, resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonUpstreamPayload)
	}
	return nil
}

// createSession provisions a streaming session for one API publisher.
func (r *restClient) createSession(ctx context.Context) (*sessionInfo, error) {
	payload := map[string]any{
		"data": map[string]any{
			"subscriber_count": 0,
			"intent":           "api",
		},
	}
	// The response nests the session under "data" in newer API versions
	// and returns it flat in older ones; accept both.
	var raw map[string]json.RawMessage
	err := r.retry.DoContext(ctx, func() error {
		return r.do(ctx, http.MethodPost, "/session-storage/session", payload, &raw)
	})
	if err != nil {
		return nil, err
	}
	var info sessionInfo
	if nested, ok := raw["data"]; ok {
		if err := json.Unmarshal(nested, &info); err == nil && info.ID != "" {
			return &info, nil
		}
	}
	flat, err := json.Marshal(raw)
	if err == nil {
		_ = json.Unmarshal(flat, &info)
	}
	if info.ID == "" || info.Publisher == "" || info.WebRTCURL == "" {
		return nil, errorsx.New(errorsx.ReasonUpstreamPayload, "session create response missing id, publisher or webrtc_url")
	}
	return &info, nil
}

// listSessions returns ids of live sessions, tolerating the response shape
// variants the endpoint has shipped.
func (r *restClient) listSessions(ctx context.Context) ([]string, error) {
	var raw json.RawMessage
	if err := r.do(ctx, http.MethodGet, "/session-storage/sessions", nil, &raw); err != nil {
		return nil, err
	}
	return sessionIDs(raw), nil
}

type sessionEntry struct {
	ID string `json:"id"`
}

func sessionIDs(raw json.RawMessage) []string {
	var direct []sessionEntry
	if err := json.Unmarshal(raw, &direct); err == nil {
		return entryIDs(direct)
	}
	var wrapped struct {
		Data     []sessionEntry `json:"data"`
		Sessions []sessionEntry `json:"sessions"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		if len(wrapped.Data) > 0 {
			return entryIDs(wrapped.Data)
		}
		return entryIDs(wrapped.Sessions)
	}
	return nil
}

func entryIDs(entries []sessionEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.ID != "" {
			out = append(out, e.ID)
		}
	}
	return out
}

// deleteSession removes one session; missing sessions are not an error.
func (r *restClient) deleteSession(ctx context.Context, id string) error {
	err := r.do(ctx, http.MethodDelete, fmt.Sprintf("/session-storage/sessions/%s", id), nil, nil)
	if err != nil && errorsx.HasReason(err, errorsx.ReasonUpstreamStatus) {
		// Already gone or cleaned server-side.
		return nil
	}
	return err
}

// cleanupStaleSessions deletes every live session. The account tier allows
// a small fixed number, so leftovers from crashed runs block new connects.
func (r *restClient) cleanupStaleSessions(ctx context.Context) {
	ids, err := r.listSessions(ctx)
	if err != nil {
		return
	}
	for _, id := range ids {
		_ = r.deleteSession(ctx, id)
	}
}
