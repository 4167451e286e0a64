// Package tokens fetches and caches the short-lived client secrets used to
// authenticate browser-grade transports such as the WebRTC SDP exchange.
package tokens

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/harunnryd/interpret/pkg/errorsx"
	"github.com/harunnryd/interpret/pkg/resilience"
)

// expiryBuffer keeps a token out of use shortly before the vendor expires
// it, so an in-flight handshake never races the expiry.
const expiryBuffer = 30 * time.Second

// Token is one ephemeral client secret.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Fetcher mints a fresh ephemeral token for a host/model/voice triple.
type Fetcher interface {
	Fetch(ctx context.Context, host, model, voice string) (Token, error)
}

// HTTPFetcher mints tokens through the vendor's realtime sessions REST
// endpoint using the long-lived API key.
type HTTPFetcher struct {
	APIKey string
	Client *http.Client
}

func (f *HTTPFetcher) Fetch(ctx context.Context, host, model, voice string) (Token, error) {
	body, err := json.Marshal(map[string]string{
		"model": model,
		"voice": voice,
	})
	if err != nil {
		return Token{}, errorsx.Wrap(err, errorsx.ReasonCodecEncode)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"/v1/realtime/sessions", bytes.NewReader(body))
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Authorization", "Bearer "+f.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Token{}, errorsx.Wrap(err, errorsx.ReasonTokenFetch)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Token{}, errorsx.New(errorsx.ReasonAuthRejected, "token mint rejected: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Token{}, errorsx.New(errorsx.ReasonTokenFetch, "token mint failed: status %d: %s", resp.StatusCode, snippet)
	}

	var out struct {
		ClientSecret struct {
			Value     string `json:"value"`
			ExpiresAt int64  `json:"expires_at"`
		} `json:"client_secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Token{}, errorsx.Wrap(err, errorsx.ReasonUpstreamPayload)
	}
	if out.ClientSecret.Value == "" {
		return Token{}, errorsx.New(errorsx.ReasonUpstreamPayload, "token mint response missing client_secret")
	}
	return Token{
		Value:     out.ClientSecret.Value,
		ExpiresAt: time.Unix(out.ClientSecret.ExpiresAt, 0),
	}, nil
}

// Cache hands out cached tokens keyed by host, model and voice, minting
// through the fetcher when the cached token is missing or about to expire.
// It is injectable per client rather than process-global so concurrent
// sessions with different keys do not share credentials.
type Cache struct {
	fetcher Fetcher
	retry   resilience.RetryPolicy
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]Token
}

func NewCache(fetcher Fetcher) *Cache {
	return &Cache{
		fetcher: fetcher,
		retry:   resilience.NewRetryPolicy(2, 300*time.Millisecond),
		now:     time.Now,
		entries: make(map[string]Token),
	}
}

// WithClock overrides the cache clock, for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func cacheKey(host, model, voice string) string {
	return fmt.Sprintf("%s:%s:%s", host, model, voice)
}

// Get returns a valid token value, minting one if needed.
func (c *Cache) Get(ctx context.Context, host, model, voice string) (string, error) {
	key := cacheKey(host, model, voice)

	c.mu.Lock()
	if tok, ok := c.entries[key]; ok && c.now().Add(expiryBuffer).Before(tok.ExpiresAt) {
		c.mu.Unlock()
		return tok.Value, nil
	}
	c.mu.Unlock()

	var tok Token
	err := c.retry.DoContext(ctx, func() error {
		var fetchErr error
		tok, fetchErr = c.fetcher.Fetch(ctx, host, model, voice)
		return fetchErr
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[key] = tok
	c.mu.Unlock()
	return tok.Value, nil
}

// Clear drops every cached token, forcing fresh mints.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Token)
	c.mu.Unlock()
}
