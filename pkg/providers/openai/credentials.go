package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/harunnryd/interpret/pkg/errorsx"
)

// ValidateCredentials performs a cheap authenticated call so bad keys are
// caught before a realtime session is attempted. An empty host means the
// production API.
func ValidateCredentials(ctx context.Context, host, apiKey string, client *http.Client) error {
	if apiKey == "" {
		return errorsx.New(errorsx.ReasonConfigMissing, "openai: api key is required")
	}
	if host == "" {
		host = "https://api.openai.com"
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/v1/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errorsx.New(errorsx.ReasonAuthRejected, "openai: credentials rejected: status %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return errorsx.New(errorsx.ReasonUpstreamStatus, "openai: credential check failed: status %d", resp.StatusCode)
	}

	var models struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonUpstreamPayload)
	}
	for _, m := range models.Data {
		if strings.Contains(m.ID, "realtime") {
			return nil
		}
	}
	// Valid key, but the account has no realtime-capable model.
	return errorsx.New(errorsx.ReasonConfigInvalid, "openai: no realtime-capable model available to this key")
}
