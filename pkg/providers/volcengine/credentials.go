package volcengine

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/harunnryd/interpret/pkg/errorsx"
	"github.com/harunnryd/interpret/pkg/signing"
)

// ValidateCredentials exercises the access key pair against the text
// translation endpoint, which shares the signing scope with the speech
// service. An empty host means the production API.
func ValidateCredentials(ctx context.Context, accessKeyID, secretAccessKey, host string, client *http.Client) error {
	if accessKeyID == "" || secretAccessKey == "" {
		return errorsx.New(errorsx.ReasonConfigMissing, "volcengine: access key pair is required")
	}
	if host == "" {
		host = stHost
	}
	if client == nil {
		client = http.DefaultClient
	}

	body, err := json.Marshal(map[string]any{
		"TargetLanguage": "en",
		"TextList":       []string{"ping"},
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCodecEncode)
	}

	signer := signing.NewSigner(signing.Credentials{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		Region:          stRegion,
		Service:         stService,
	})
	query := url.Values{}
	query.Set("Action", "TranslateText")
	query.Set("Version", stVersion)
	sreq := signing.Request{
		Method: http.MethodPost,
		Host:   stHost,
		Path:   "/",
		Query:  query,
		Body:   body,
	}
	headers := signer.SignedHeaders(sreq, "application/json")

	endpoint := "https://" + host + "/?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, v := range headers {
		if k == "Host" {
			req.Host = sreq.Host
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	defer resp.Body.Close()

	// The API answers 200 even for request-level errors; rejection lives
	// in ResponseMetadata.Error.
	var payload struct {
		ResponseMetadata struct {
			Error *struct {
				Code    string `json:"Code"`
				Message string `json:"Message"`
			} `json:"Error"`
		} `json:"ResponseMetadata"`
	}
	if resp.StatusCode >= 300 {
		return errorsx.New(errorsx.ReasonUpstreamStatus, "volcengine: credential check failed: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonUpstreamPayload)
	}
	if e := payload.ResponseMetadata.Error; e != nil {
		if strings.Contains(e.Code, "Signature") || strings.Contains(e.Code, "Authentication") {
			return errorsx.New(errorsx.ReasonAuthRejected, "volcengine: credentials rejected: %s: %s", e.Code, e.Message)
		}
		return errorsx.New(errorsx.ReasonUpstreamStatus, "volcengine: credential check failed: %s: %s", e.Code, e.Message)
	}
	return nil
}
