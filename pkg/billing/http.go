package billing

import (
	"bytes"
	"encoding/json"
	"net/http"

	"context"

	"github.com/harunnryd/interpret/pkg/errorsx"
)

// HTTPReporter posts usage events to the wallet's use-tokens endpoint.
type HTTPReporter struct {
	URL    string
	Token  string
	Client *http.Client
}

type usagePayload struct {
	SubjectType     string         `json:"subjectType"`
	SubjectID       string         `json:"subjectId"`
	Provider        string         `json:"provider"`
	Model           string         `json:"model,omitempty"`
	Endpoint        string         `json:"endpoint,omitempty"`
	Method          string         `json:"method,omitempty"`
	InputTokens     int            `json:"inputTokens,omitempty"`
	OutputTokens    int            `json:"outputTokens,omitempty"`
	DurationSeconds float64        `json:"durationSeconds,omitempty"`
	Modality        string         `json:"modality,omitempty"`
	SessionID       string         `json:"sessionId,omitempty"`
	ResponseID      string         `json:"responseId,omitempty"`
	EventType       string         `json:"eventType,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

func (r *HTTPReporter) Report(ctx context.Context, ev UsageEvent) (Result, error) {
	subjectType := ev.SubjectType
	if subjectType == "" {
		subjectType = "user"
	}
	body, err := json.Marshal(usagePayload{
		SubjectType:     subjectType,
		SubjectID:       ev.SubjectID,
		Provider:        ev.Provider,
		Model:           ev.Model,
		Endpoint:        ev.Endpoint,
		Method:          ev.Method,
		InputTokens:     ev.InputTokens,
		OutputTokens:    ev.OutputTokens,
		DurationSeconds: ev.DurationSeconds,
		Modality:        ev.Modality,
		SessionID:       ev.SessionID,
		ResponseID:      ev.ResponseID,
		EventType:       ev.EventType,
		Metadata:        ev.Metadata,
	})
	if err != nil {
		return Result{}, errorsx.Wrap(err, errorsx.ReasonCodecEncode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	defer resp.Body.Close()

	var out struct {
		Success   bool    `json:"success"`
		Remaining float64 `json:"remaining"`
		Deducted  float64 `json:"deducted"`
		Error     string  `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, errorsx.Wrap(err, errorsx.ReasonUpstreamPayload)
	}
	return Result{
		Success:   out.Success,
		Remaining: out.Remaining,
		Deducted:  out.Deducted,
		Error:     out.Error,
	}, nil
}
